package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type projectsResponse struct {
	Projects      []json.RawMessage `json:"projects"`
	NextPageToken string            `json:"nextPageToken"`
}

type projectDoc struct {
	ProjectID      string            `json:"projectId"`
	Name           string            `json:"name"`
	ProjectNumber  string            `json:"projectNumber"`
	LifecycleState string            `json:"lifecycleState"`
	Labels         map[string]string `json:"labels"`
}

// ListProjects lists the active projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindProject)
	return fetchCached(ctx, c, key, c.projectTTL, "cloudresourcemanager.projects.list",
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listProjects(ctx)
		})
}

func (c *Client) listProjects(ctx context.Context) ([]sequel.Resource, error) {
	var out []sequel.Resource

	pageToken := ""
	for {
		params := url.Values{}
		params.Set("filter", "lifecycleState:ACTIVE")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp projectsResponse
		if err := c.getJSON(ctx, "cloudresourcemanager", c.resourceManagerURL+"/v1/projects", params, &resp); err != nil {
			return nil, err
		}

		for _, raw := range resp.Projects {
			var p projectDoc
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("decoding project: %w", err)
			}
			name := p.Name
			if name == "" {
				name = p.ProjectID
			}
			out = append(out, sequel.Resource{
				Kind:    sequel.KindProject,
				Name:    name,
				ID:      p.ProjectID,
				Project: p.ProjectID,
				Status:  p.LifecycleState,
				Labels:  p.Labels,
				Extra:   map[string]string{"number": p.ProjectNumber},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed projects", "count", len(out))
	return out, nil
}
