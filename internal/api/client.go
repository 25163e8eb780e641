package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"
)

// Config wires the client to its auth owner. The client never stores
// credentials itself; the access token lives with the auth session manager
// and is read through GetAccessToken on every request.
type Config struct {
	BaseURL        string
	GetAccessToken func() string
	RefreshTokens  func(ctx context.Context) error
	OnUnauthorized func()
}

type Client struct {
	baseURL        string
	client         *fasthttp.Client
	getAccessToken func() string
	refreshTokens  func(ctx context.Context) error
	onUnauthorized func()
	refreshGroup   singleflight.Group
	logger         zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		getAccessToken: cfg.GetAccessToken,
		refreshTokens:  cfg.RefreshTokens,
		onUnauthorized: cfg.OnUnauthorized,
		logger:         logger,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// do issues an authenticated request. On a 401 for a request that carried a
// token it refreshes via singleflight (concurrent 401s collapse into one
// refresh call, all waiters suspend until it resolves) and retries exactly
// once. A second 401, or a failed refresh, is a permanently expired session.
func do[T any](ctx context.Context, c *Client, method, endpoint string, body any) (*T, error) {
	return request[T](ctx, c, method, endpoint, body, true)
}

// doNoRefresh is for auth endpoints themselves, where a 401 must not
// re-enter the refresh flow.
func doNoRefresh[T any](ctx context.Context, c *Client, method, endpoint string, body any) (*T, error) {
	return request[T](ctx, c, method, endpoint, body, false)
}

func request[T any](ctx context.Context, c *Client, method, endpoint string, body any, refreshOn401 bool) (*T, error) {
	token := c.getAccessToken()

	status, respBody, err := c.send(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if status == fasthttp.StatusUnauthorized && token != "" && refreshOn401 {
		// Single-flight: whoever gets here first runs the refresh, everyone
		// else waits on the same call.
		_, refreshErr, _ := c.refreshGroup.Do("refresh", func() (any, error) {
			c.logger.Debug().Str("endpoint", endpoint).Msg("access token rejected, refreshing")
			return nil, c.refreshTokens(ctx)
		})
		if refreshErr != nil {
			c.logger.Warn().Err(refreshErr).Msg("token refresh failed")
			if c.onUnauthorized != nil {
				c.onUnauthorized()
			}
			return nil, ErrSessionExpired
		}

		status, respBody, err = c.send(ctx, method, endpoint, body, c.getAccessToken())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		if status == fasthttp.StatusUnauthorized {
			if c.onUnauthorized != nil {
				c.onUnauthorized()
			}
			return nil, ErrSessionExpired
		}
	}

	if status == fasthttp.StatusNoContent {
		var zero T
		return &zero, nil
	}

	if status < 200 || status >= 300 {
		return nil, parseError(status, respBody)
	}

	var result T
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return &result, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, token string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + endpoint)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.SetBody(encoded)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return 0, nil, err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return 0, nil, err
		}
	}

	// resp is released on return, copy the body out
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

func parseError(status int, body []byte) error {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	message := ""
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Error.Message != "" {
			message = wrapped.Error.Message
		} else if wrapped.Detail != "" {
			message = wrapped.Detail
		}
	}
	return &Error{Status: status, Message: message}
}
