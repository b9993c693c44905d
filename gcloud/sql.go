package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type sqlInstancesResponse struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

type sqlInstanceDoc struct {
	Name            string `json:"name"`
	Region          string `json:"region"`
	State           string `json:"state"`
	DatabaseVersion string `json:"databaseVersion"`
	Settings        struct {
		Tier       string            `json:"tier"`
		UserLabels map[string]string `json:"userLabels"`
	} `json:"settings"`
}

// ListSQLInstances lists Cloud SQL instances in a project.
func (c *Client) ListSQLInstances(ctx context.Context, project string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindSQLInstance, project)
	name := fmt.Sprintf("sqladmin.instances.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listSQLInstances(ctx, project)
		})
}

func (c *Client) listSQLInstances(ctx context.Context, project string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/v1/projects/%s/instances", c.sqlAdminURL, project)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp sqlInstancesResponse
		if err := c.getJSON(ctx, "sqladmin", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Items {
			var inst sqlInstanceDoc
			if err := json.Unmarshal(raw, &inst); err != nil {
				return nil, fmt.Errorf("decoding sql instance: %w", err)
			}
			out = append(out, sequel.Resource{
				Kind:     sequel.KindSQLInstance,
				Name:     inst.Name,
				Project:  project,
				Location: inst.Region,
				Status:   inst.State,
				Labels:   inst.Settings.UserLabels,
				Extra: map[string]string{
					"database_version": inst.DatabaseVersion,
					"tier":             inst.Settings.Tier,
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed sql instances", "project", project, "count", len(out))
	return out, nil
}
