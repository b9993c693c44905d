package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type secretsResponse struct {
	Secrets       []json.RawMessage `json:"secrets"`
	NextPageToken string            `json:"nextPageToken"`
}

type secretDoc struct {
	Name        string            `json:"name"`
	CreateTime  string            `json:"createTime"`
	Labels      map[string]string `json:"labels"`
	Replication struct {
		Automatic *struct{} `json:"automatic"`
	} `json:"replication"`
}

// ListSecrets lists Secret Manager secrets in a project. Only the secret
// metadata is fetched, never the secret payload versions.
func (c *Client) ListSecrets(ctx context.Context, project string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindSecret, project)
	name := fmt.Sprintf("secretmanager.secrets.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listSecrets(ctx, project)
		})
}

func (c *Client) listSecrets(ctx context.Context, project string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/v1/projects/%s/secrets", c.secretManagerURL, project)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp secretsResponse
		if err := c.getJSON(ctx, "secretmanager", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Secrets {
			var s secretDoc
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("decoding secret: %w", err)
			}
			replication := "user_managed"
			if s.Replication.Automatic != nil {
				replication = "automatic"
			}
			out = append(out, sequel.Resource{
				Kind:    sequel.KindSecret,
				Name:    path.Base(s.Name),
				Project: project,
				Labels:  s.Labels,
				Extra: map[string]string{
					"create_time": s.CreateTime,
					"replication": replication,
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed secrets", "project", project, "count", len(out))
	return out, nil
}
