package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type serviceAccountsResponse struct {
	Accounts      []json.RawMessage `json:"accounts"`
	NextPageToken string            `json:"nextPageToken"`
}

type serviceAccountDoc struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	UniqueID    string `json:"uniqueId"`
	DisplayName string `json:"displayName"`
	Disabled    bool   `json:"disabled"`
}

// ListServiceAccounts lists IAM service accounts in a project.
func (c *Client) ListServiceAccounts(ctx context.Context, project string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindServiceAccount, project)
	name := fmt.Sprintf("iam.serviceAccounts.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listServiceAccounts(ctx, project)
		})
}

func (c *Client) listServiceAccounts(ctx context.Context, project string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/v1/projects/%s/serviceAccounts", c.iamURL, project)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp serviceAccountsResponse
		if err := c.getJSON(ctx, "iam", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Accounts {
			var a serviceAccountDoc
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("decoding service account: %w", err)
			}
			status := "ENABLED"
			if a.Disabled {
				status = "DISABLED"
			}
			out = append(out, sequel.Resource{
				Kind:    sequel.KindServiceAccount,
				Name:    a.Email,
				ID:      a.UniqueID,
				Project: project,
				Status:  status,
				Extra: map[string]string{
					"display_name": a.DisplayName,
					"disabled":     strconv.FormatBool(a.Disabled),
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed service accounts", "project", project, "count", len(out))
	return out, nil
}
