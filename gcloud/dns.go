package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	sequel "github.com/dan-elliott-appneta/sequel"
)

type managedZonesResponse struct {
	ManagedZones  []json.RawMessage `json:"managedZones"`
	NextPageToken string            `json:"nextPageToken"`
}

type managedZoneDoc struct {
	Name        string            `json:"name"`
	DNSName     string            `json:"dnsName"`
	Description string            `json:"description"`
	Visibility  string            `json:"visibility"`
	Labels      map[string]string `json:"labels"`
}

type recordSetsResponse struct {
	Rrsets        []json.RawMessage `json:"rrsets"`
	NextPageToken string            `json:"nextPageToken"`
}

type recordSetDoc struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	TTL     int      `json:"ttl"`
	Rrdatas []string `json:"rrdatas"`
}

// ListDNSZones lists Cloud DNS managed zones in a project.
func (c *Client) ListDNSZones(ctx context.Context, project string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindDNSZone, project)
	name := fmt.Sprintf("dns.managedZones.list(%s)", project)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listDNSZones(ctx, project)
		})
}

func (c *Client) listDNSZones(ctx context.Context, project string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/dns/v1/projects/%s/managedZones", c.dnsURL, project)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp managedZonesResponse
		if err := c.getJSON(ctx, "dns", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.ManagedZones {
			var z managedZoneDoc
			if err := json.Unmarshal(raw, &z); err != nil {
				return nil, fmt.Errorf("decoding managed zone: %w", err)
			}
			out = append(out, sequel.Resource{
				Kind:    sequel.KindDNSZone,
				Name:    z.Name,
				Project: project,
				Labels:  z.Labels,
				Extra: map[string]string{
					"dns_name":   z.DNSName,
					"visibility": z.Visibility,
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("listed dns zones", "project", project, "count", len(out))
	return out, nil
}

// ListDNSRecords lists the record sets of one managed zone.
func (c *Client) ListDNSRecords(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	key := sequel.ListKey(sequel.KindDNSRecord, project, zone)
	name := fmt.Sprintf("dns.resourceRecordSets.list(%s/%s)", project, zone)
	return fetchCached(ctx, c, key, c.resourceTTL, name,
		func(ctx context.Context) ([]sequel.Resource, error) {
			return c.listDNSRecords(ctx, project, zone)
		})
}

func (c *Client) listDNSRecords(ctx context.Context, project, zone string) ([]sequel.Resource, error) {
	var out []sequel.Resource

	base := fmt.Sprintf("%s/dns/v1/projects/%s/managedZones/%s/rrsets", c.dnsURL, project, zone)
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp recordSetsResponse
		if err := c.getJSON(ctx, "dns", base, params, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Rrsets {
			var r recordSetDoc
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("decoding record set: %w", err)
			}
			out = append(out, sequel.Resource{
				Kind:    sequel.KindDNSRecord,
				Name:    r.Name,
				Project: project,
				Extra: map[string]string{
					"type": r.Type,
					"ttl":  strconv.Itoa(r.TTL),
					"data": strings.Join(r.Rrdatas, ", "),
					"zone": zone,
				},
				Payload: sequel.NewPayload(raw),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}
