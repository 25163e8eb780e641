package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/constants"

	"github.com/rs/zerolog"
)

type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Manager owns the access/refresh token pair and the current user. It is the
// only component that writes credentials; the API client reads the access
// token through AccessToken on every request.
type Manager struct {
	mu           sync.RWMutex
	client       *api.Client
	user         *User
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	loginHooks []func()
	logger     zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Bind attaches the API client after construction. The client and the
// manager reference each other, so one side has to be wired late.
func (m *Manager) Bind(client *api.Client) {
	m.client = client
}

// OnLogin registers a hook fired after a successful login. Hooks run on the
// login goroutine and must not block.
func (m *Manager) OnLogin(hook func()) {
	m.loginHooks = append(m.loginHooks, hook)
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken != ""
}

func (m *Manager) CurrentUser() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Login authenticates and stores the session. Login hooks (bulk sync) fire
// after the tokens are in place; their failures never fail the login.
func (m *Manager) Login(ctx context.Context, email, password string) (*User, error) {
	resp, err := m.client.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	user := userFromResponse(resp.User)
	m.storeTokens(resp, user)

	m.logger.Info().Str("user_id", user.ID).Msg("logged in")

	for _, hook := range m.loginHooks {
		hook()
	}
	return m.CurrentUser(), nil
}

// Refresh exchanges the refresh token for a new token pair. Used both by the
// scheduler and as the API client's refresh callback.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.RLock()
	refreshToken := m.refreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		return api.ErrSessionExpired
	}

	resp, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	m.storeTokens(resp, nil)
	m.logger.Debug().Msg("access token refreshed")
	return nil
}

// HandleUnauthorized is the API client's logout trigger: refresh failed or a
// refreshed token was rejected again.
func (m *Manager) HandleUnauthorized() {
	m.logger.Warn().Msg("session expired, clearing credentials")
	m.clearSession()
}

func (m *Manager) Logout(ctx context.Context) {
	if err := m.client.Logout(ctx); err != nil {
		// Local logout proceeds regardless
		m.logger.Warn().Err(err).Msg("logout request failed")
	}
	m.clearSession()
	m.logger.Info().Msg("logged out")
}

func (m *Manager) storeTokens(resp *api.TokenResponse, user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}
	m.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if user != nil {
		m.user = user
	}
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.refreshToken = ""
	m.expiresAt = time.Time{}
	m.user = nil
}

// Start launches the background refresh scheduler: while authenticated, the
// token is refreshed shortly before it expires.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(constants.TokenRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.maybeRefresh()
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager) maybeRefresh() {
	m.mu.RLock()
	authenticated := m.accessToken != ""
	expiresSoon := time.Until(m.expiresAt) < constants.TokenRefreshLeeway
	m.mu.RUnlock()

	if !authenticated || !expiresSoon {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ExternalAPITimeout)
	defer cancel()

	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("scheduled token refresh failed")
	}
}

func userFromResponse(u *api.UserResponse) *User {
	if u == nil {
		return &User{}
	}
	return &User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
