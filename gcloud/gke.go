package gcloud

import (
	"context"
	"encoding/json"
	"fmt"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type clustersResponse struct {
	Clusters []json.RawMessage `json:"clusters"`
}

type clusterDoc struct {
	Name                 string            `json:"name"`
	Location             string            `json:"location"`
	Status               string            `json:"status"`
	CurrentMasterVersion string            `json:"currentMasterVersion"`
	CurrentNodeCount     int               `json:"currentNodeCount"`
	ResourceLabels       map[string]string `json:"resourceLabels"`
}

type nodePoolsResponse struct {
	NodePools []json.RawMessage `json:"nodePools"`
}

type nodePoolDoc struct {
	Name             string `json:"name"`
	Status           string `json:"status"`
	Version          string `json:"version"`
	InitialNodeCount int    `json:"initialNodeCount"`
}

// ListClusters lists GKE clusters across all locations of a project.
func (c *Client) ListClusters(ctx context.Context, project string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindCluster, project)
	name := fmt.Sprintf("container.clusters.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listClusters(ctx, project)
		})
}

func (c *Client) listClusters(ctx context.Context, project string) ([]sequel.Resource, error) {
	// "-" lists every location in one call.
	u := fmt.Sprintf("%s/v1/projects/%s/locations/-/clusters", c.containerURL, project)

	var resp clustersResponse
	if err := c.getJSON(ctx, "container", u, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]sequel.Resource, 0, len(resp.Clusters))
	for _, raw := range resp.Clusters {
		var cl clusterDoc
		if err := json.Unmarshal(raw, &cl); err != nil {
			return nil, fmt.Errorf("decoding cluster: %w", err)
		}
		out = append(out, sequel.Resource{
			Kind:     sequel.KindCluster,
			Name:     cl.Name,
			Project:  project,
			Location: cl.Location,
			Status:   cl.Status,
			Labels:   cl.ResourceLabels,
			Extra: map[string]string{
				"master_version": cl.CurrentMasterVersion,
				"node_count":     fmt.Sprintf("%d", cl.CurrentNodeCount),
			},
			Payload: sequel.NewPayload(raw),
		})
	}

	c.logger.Info("listed clusters", "project", project, "count", len(out))
	return out, nil
}

// ListNodePools lists the node pools of one cluster.
func (c *Client) ListNodePools(ctx context.Context, project, location, cluster string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindNodePool, project, location, cluster)
	name := fmt.Sprintf("container.nodePools.list(%s/%s)", project, cluster)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listNodePools(ctx, project, location, cluster)
		})
}

func (c *Client) listNodePools(ctx context.Context, project, location, cluster string) ([]sequel.Resource, error) {
	u := fmt.Sprintf("%s/v1/projects/%s/locations/%s/clusters/%s/nodePools",
		c.containerURL, project, location, cluster)

	var resp nodePoolsResponse
	if err := c.getJSON(ctx, "container", u, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]sequel.Resource, 0, len(resp.NodePools))
	for _, raw := range resp.NodePools {
		var np nodePoolDoc
		if err := json.Unmarshal(raw, &np); err != nil {
			return nil, fmt.Errorf("decoding node pool: %w", err)
		}
		out = append(out, sequel.Resource{
			Kind:     sequel.KindNodePool,
			Name:     np.Name,
			Project:  project,
			Location: location,
			Status:   np.Status,
			Extra: map[string]string{
				"cluster": cluster,
				"version": np.Version,
			},
			Payload: sequel.NewPayload(raw),
		})
	}
	return out, nil
}
