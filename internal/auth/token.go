package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"llmgate/internal/core"
)

// Manager owns the credential lifecycle for one backend: lazy discovery,
// expiry checks and single-flight refresh. Safe for concurrent use; any
// number of in-flight requests share a single refresh.
type Manager struct {
	cfg       OAuthConfig
	discovery *Discovery
	client    *http.Client
	logger    *slog.Logger

	mu   sync.Mutex
	cred *Credential

	group singleflight.Group

	// onRefresh, when set, is called with the new credential after a
	// successful refresh or SetCredential. Used for metrics.
	onRefresh func(backendID string)
}

func NewManager(cfg OAuthConfig, discovery *Discovery, client *http.Client, logger *slog.Logger) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		discovery: discovery,
		client:    client,
		logger:    logger.With("backend", cfg.Backend),
	}
}

// OnRefresh registers a hook invoked after each successful refresh.
func (m *Manager) OnRefresh(fn func(backendID string)) {
	m.mu.Lock()
	m.onRefresh = fn
	m.mu.Unlock()
}

// SetCredential installs a freshly-minted credential (from a login flow)
// and persists it write-through.
func (m *Manager) SetCredential(cred *Credential) error {
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	return m.discovery.Persist(m.cfg.Backend, cred)
}

// AccountID returns the account id of the current credential, if any.
func (m *Manager) AccountID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return ""
	}
	return m.cred.AccountID
}

// Token returns an access token that is valid for at least RefreshMargin,
// refreshing first when needed. Concurrent callers that find the token
// expired coalesce into one refresh; the rest wait for its result.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.cred == nil {
		cred, err := m.discovery.Load(m.cfg.Backend)
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
		m.cred = cred
	}
	if !m.cred.Expired() {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	stale := m.cred
	m.mu.Unlock()

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// Re-check under the lock: a refresh that completed between the
		// first check and joining the group already did the work.
		m.mu.Lock()
		if m.cred != nil && !m.cred.Expired() {
			token := m.cred.AccessToken
			m.mu.Unlock()
			return token, nil
		}
		m.mu.Unlock()

		cred, err := m.refresh(ctx, stale)
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		m.cred = cred
		hook := m.onRefresh
		m.mu.Unlock()

		if err := m.discovery.Persist(m.cfg.Backend, cred); err != nil {
			m.logger.Warn("credential persist failed after refresh", "error", err)
		}
		if hook != nil {
			hook(m.cfg.Backend)
		}
		return cred.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh redeems the refresh token for a new credential. The old
// credential is kept on transport errors so a transient failure does not
// strand the caller; a non-200 answer is fatal and means a new login.
func (m *Manager) refresh(ctx context.Context, stale *Credential) (*Credential, error) {
	if stale.RefreshToken == "" {
		return nil, core.NewTokenRefreshError(m.cfg.Backend, "credential has no refresh token", "", nil)
	}

	var body io.Reader
	var contentType string
	if m.cfg.JSONTokenRequest {
		raw, err := json.Marshal(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     m.cfg.ClientID,
			"refresh_token": stale.RefreshToken,
		})
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(raw))
		contentType = "application/json"
	} else {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("client_id", m.cfg.ClientID)
		form.Set("refresh_token", stale.RefreshToken)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, core.NewTokenRefreshError(m.cfg.Backend, "refresh request failed", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, core.NewTokenRefreshError(m.cfg.Backend, "reading refresh response", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewTokenRefreshError(m.cfg.Backend,
			fmt.Sprintf("refresh endpoint returned %d", resp.StatusCode), string(raw), nil)
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, core.NewTokenRefreshError(m.cfg.Backend, "decoding refresh response", string(raw), err)
	}
	if tok.AccessToken == "" {
		return nil, core.NewTokenRefreshError(m.cfg.Backend, "refresh response missing access_token", string(raw), nil)
	}

	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccountID:    stale.AccountID,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = stale.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if cred.AccountID == "" && m.cfg.Backend == BackendCodex {
		cred.AccountID, _ = ExtractAccountID(cred.AccessToken)
	}

	m.logger.Info("token refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}
