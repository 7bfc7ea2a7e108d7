package oneatlas

import (
	"context"
	"net/http"
)

// ListAPIKeys lists the account's API keys.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var out []APIKey
	err := c.do(ctx, call{
		audience: AudienceManagement,
		endpoint: "list_apikeys",
		method:   http.MethodGet,
		url:      c.endpoints.apiKeysURL(),
		out:      &out,
	})
	return out, err
}

// CreateAPIKey creates a key. The secret is only returned here.
func (c *Client) CreateAPIKey(ctx context.Context, description string) (APIKey, error) {
	var out APIKey
	err := c.do(ctx, call{
		audience: AudienceManagement,
		endpoint: "create_apikey",
		method:   http.MethodPost,
		url:      c.endpoints.apiKeysURL(),
		body:     map[string]string{"description": description},
		out:      &out,
	})
	return out, err
}

// DeleteAPIKeys revokes every key of the account, the one in use included.
func (c *Client) DeleteAPIKeys(ctx context.Context) error {
	return c.do(ctx, call{
		audience: AudienceManagement,
		endpoint: "delete_apikeys",
		method:   http.MethodDelete,
		url:      c.endpoints.apiKeysURL(),
	})
}
