package api

import (
	"context"

	"github.com/valyala/fasthttp"
)

const apiPrefix = "/api/v1"

// CreateSession saves one session remotely. The server is idempotent on
// client_session_id: resubmitting an already-known session returns the
// existing record instead of creating a duplicate.
func (c *Client) CreateSession(ctx context.Context, payload SessionPayload) (*SessionResponse, error) {
	return do[SessionResponse](ctx, c, fasthttp.MethodPost, apiPrefix+"/sessions", payload)
}

// BulkSyncSessions submits a batch of sessions in one request.
func (c *Client) BulkSyncSessions(ctx context.Context, sessions []SessionPayload) (*BulkSyncResponse, error) {
	return do[BulkSyncResponse](ctx, c, fasthttp.MethodPost, apiPrefix+"/sessions/sync", BulkSyncRequest{Sessions: sessions})
}

func (c *Client) ListSessions(ctx context.Context) (*ListSessionsResponse, error) {
	return do[ListSessionsResponse](ctx, c, fasthttp.MethodGet, apiPrefix+"/sessions", nil)
}

func (c *Client) DeleteSession(ctx context.Context, cloudID string) error {
	_, err := do[struct{}](ctx, c, fasthttp.MethodDelete, apiPrefix+"/sessions/"+cloudID, nil)
	return err
}

func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	return doNoRefresh[TokenResponse](ctx, c, fasthttp.MethodPost, apiPrefix+"/auth/login", LoginRequest{Email: email, Password: password})
}

func (c *Client) Register(ctx context.Context, email, password, displayName string) (*UserResponse, error) {
	return doNoRefresh[UserResponse](ctx, c, fasthttp.MethodPost, apiPrefix+"/auth/register", RegisterRequest{Email: email, Password: password, DisplayName: displayName})
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return doNoRefresh[TokenResponse](ctx, c, fasthttp.MethodPost, apiPrefix+"/auth/refresh", RefreshRequest{RefreshToken: refreshToken})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := doNoRefresh[struct{}](ctx, c, fasthttp.MethodPost, apiPrefix+"/auth/logout", nil)
	return err
}

func (c *Client) Me(ctx context.Context) (*UserResponse, error) {
	return do[UserResponse](ctx, c, fasthttp.MethodGet, apiPrefix+"/users/me", nil)
}

// UpdatePreferences pushes a sparse preference update. Field names come from
// the settings mapping table, not from local preference keys.
func (c *Client) UpdatePreferences(ctx context.Context, fields map[string]any) (*UserResponse, error) {
	return do[UserResponse](ctx, c, fasthttp.MethodPatch, apiPrefix+"/users/me/preferences", fields)
}
