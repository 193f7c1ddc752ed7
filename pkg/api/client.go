package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/campushq/permit/pkg/store"
)

// Client is the HTTP client services embed to fetch authorization data from
// the central store. It implements cache.Fetcher, so a PermissionCache can
// sit directly on top of it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the authorization API at baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type rolePermissionsResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// FetchRolePermissions returns the role's permission set from the store
func (c *Client) FetchRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	var resp rolePermissionsResponse
	path := fmt.Sprintf("/api/v1/authz/roles/%s/permissions", url.PathEscape(roleName))
	if err := c.getJSON(ctx, path, store.ErrRoleNotFound, &resp); err != nil {
		return nil, err
	}
	return resp.Permissions, nil
}

// FetchUserAuthData returns the user's materialized roles and permissions
func (c *Client) FetchUserAuthData(ctx context.Context, userID string) (*store.UserAuthData, error) {
	var data store.UserAuthData
	path := fmt.Sprintf("/api/v1/authz/users/%s", url.PathEscape(userID))
	if err := c.getJSON(ctx, path, store.ErrUserNotFound, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// getJSON performs a GET and decodes the body. A 404 maps to the typed
// not-found error so callers can distinguish a definite miss from an outage.
func (c *Client) getJSON(ctx context.Context, path string, notFound error, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authorization store request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	default:
		return fmt.Errorf("authorization store returned status %d", resp.StatusCode)
	}
}
