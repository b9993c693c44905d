package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type instanceGroupsResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

type aggregatedInstanceGroupsResponse struct {
	Items map[string]struct {
		InstanceGroups []json.RawMessage `json:"instanceGroups"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type instanceGroupDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Zone        string `json:"zone"` // full URL
	Size        int    `json:"size"`
	Network     string `json:"network"`
}

type instancesResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

type instanceDoc struct {
	Name        string            `json:"name"`
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Zone        string            `json:"zone"`
	MachineType string            `json:"machineType"` // full URL
	Labels      map[string]string `json:"labels"`
}

// ListInstanceGroups lists instance groups in a project. With a zone the
// zonal API is used; otherwise one aggregated call covers all zones.
func (c *Client) ListInstanceGroups(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindInstanceGroup, project, zone)
	name := fmt.Sprintf("compute.instanceGroups.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			if zone != "" {
				return c.listZoneInstanceGroups(ctx, project, zone)
			}
			return c.listAggregatedInstanceGroups(ctx, project)
		})
}

func (c *Client) listZoneInstanceGroups(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/compute/v1/projects/%s/zones/%s/instanceGroups", c.computeURL, project, zone)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp instanceGroupsResponse
		if err := c.getJSON(ctx, "compute", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Items {
			res, err := mapInstanceGroup(project, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

// listAggregatedInstanceGroups uses the aggregated list API, which is far
// cheaper than walking every zone individually.
func (c *Client) listAggregatedInstanceGroups(ctx context.Context, project string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/instanceGroups", c.computeURL, project)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp aggregatedInstanceGroupsResponse
		if err := c.getJSON(ctx, "compute", base, params, &resp); err != nil {
			return nil, err
		}
		for _, scope := range resp.Items {
			for _, raw := range scope.InstanceGroups {
				res, err := mapInstanceGroup(project, raw)
				if err != nil {
					return nil, err
				}
				out = append(out, res)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed instance groups", "project", project, "count", len(out))
	return out, nil
}

func mapInstanceGroup(project string, raw json.RawMessage) (sequel.Resource, error) {
	var g instanceGroupDoc
	if err := json.Unmarshal(raw, &g); err != nil {
		return sequel.Resource{}, fmt.Errorf("decoding instance group: %w", err)
	}
	return sequel.Resource{
		Kind:     sequel.KindInstanceGroup,
		Name:     g.Name,
		Project:  project,
		Location: path.Base(g.Zone),
		Extra: map[string]string{
			"size":    strconv.Itoa(g.Size),
			"network": path.Base(g.Network),
		},
		Payload: sequel.NewPayload(raw),
	}, nil
}

// ListInstances lists compute instances in one zone.
func (c *Client) ListInstances(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindInstance, project, zone)
	name := fmt.Sprintf("compute.instances.list(%s/%s)", project, zone)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listInstances(ctx, project, zone)
		})
}

func (c *Client) listInstances(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/compute/v1/projects/%s/zones/%s/instances", c.computeURL, project, zone)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp instancesResponse
		if err := c.getJSON(ctx, "compute", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Items {
			var inst instanceDoc
			if err := json.Unmarshal(raw, &inst); err != nil {
				return nil, fmt.Errorf("decoding instance: %w", err)
			}
			out = append(out, sequel.Resource{
				Kind:     sequel.KindInstance,
				Name:     inst.Name,
				ID:       inst.ID,
				Project:  project,
				Location: zone,
				Status:   inst.Status,
				Labels:   inst.Labels,
				Extra: map[string]string{
					"machine_type": path.Base(inst.MachineType),
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed instances", "project", project, "zone", zone, "count", len(out))
	return out, nil
}
