package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"llmgate/internal/core"
)

// CallbackTimeout bounds how long the loopback server waits for the
// browser redirect before the login attempt is abandoned.
const CallbackTimeout = 120 * time.Second

// Flow runs one authorization-code login with PKCE for a single backend.
// A Flow is single-use: generate it, direct the user to AuthURL, then
// complete with WaitCallback or ExchangeManual.
type Flow struct {
	cfg      OAuthConfig
	client   *http.Client
	verifier string
	state    string
	logger   *slog.Logger
}

func NewFlow(cfg OAuthConfig, client *http.Client, logger *slog.Logger) (*Flow, error) {
	verifier, err := randomToken()
	if err != nil {
		return nil, err
	}
	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		cfg:      cfg,
		client:   client,
		verifier: verifier,
		state:    state,
		logger:   logger.With("backend", cfg.Backend),
	}, nil
}

// randomToken returns 32 bytes of entropy as unpadded base64url.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthURL builds the authorization URL the user must open in a browser.
func (f *Flow) AuthURL() string {
	sum := sha256.Sum256([]byte(f.verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("scope", f.cfg.Scopes)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", f.state)
	for k, v := range f.cfg.ExtraAuthParams {
		q.Set(k, v)
	}
	return f.cfg.AuthorizeURL + "?" + q.Encode()
}

type callbackResult struct {
	code string
	err  error
}

// WaitCallback serves a one-shot loopback HTTP listener and blocks
// until the authorization redirect arrives, the timeout elapses, or
// ctx is cancelled. The listener is torn down on every exit path.
func (f *Flow) WaitCallback(ctx context.Context) (*Credential, error) {
	if f.cfg.CallbackAddr == "" {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "backend has no loopback callback; use manual code entry")
	}

	results := make(chan callbackResult, 1)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(f.cfg.CallbackPath, func(c echo.Context) error {
		state := c.QueryParam("state")
		if subtle.ConstantTimeCompare([]byte(state), []byte(f.state)) != 1 {
			select {
			case results <- callbackResult{err: core.NewAuthenticationError(f.cfg.Backend, "authorization state mismatch")}:
			default:
			}
			return c.String(http.StatusBadRequest, "state mismatch")
		}
		code := c.QueryParam("code")
		if code == "" {
			desc := c.QueryParam("error_description")
			if desc == "" {
				desc = c.QueryParam("error")
			}
			select {
			case results <- callbackResult{err: core.NewAuthenticationError(f.cfg.Backend, "authorization denied: "+desc)}:
			default:
			}
			return c.String(http.StatusBadRequest, "authorization denied")
		}
		select {
		case results <- callbackResult{code: code}:
		default:
		}
		return c.HTML(http.StatusOK, "<html><body><h2>Login complete</h2><p>You can close this tab.</p></body></html>")
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- e.Start(f.cfg.CallbackAddr)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			e.Close()
		}
	}()

	timer := time.NewTimer(CallbackTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return f.Exchange(ctx, res.code, f.state)
	case err := <-serveErr:
		return nil, core.NewAuthenticationError(f.cfg.Backend, "callback listener failed: "+err.Error())
	case <-timer.C:
		return nil, core.NewTimeoutError("authorization callback", nil)
	case <-ctx.Done():
		return nil, core.NewTimeoutError("login", ctx.Err())
	}
}

// ExchangeManual completes a login where the user pastes the value
// shown after authorization. Anthropic encodes it as "code#state".
func (f *Flow) ExchangeManual(ctx context.Context, pasted string) (*Credential, error) {
	code := strings.TrimSpace(pasted)
	state := f.state
	if idx := strings.IndexByte(code, '#'); idx >= 0 {
		state = code[idx+1:]
		code = code[:idx]
	}
	return f.Exchange(ctx, code, state)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

// Exchange redeems the authorization code for tokens. The state is
// verified before any request reaches the token endpoint.
func (f *Flow) Exchange(ctx context.Context, code, state string) (*Credential, error) {
	if subtle.ConstantTimeCompare([]byte(state), []byte(f.state)) != 1 {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "authorization state mismatch")
	}

	var body io.Reader
	var contentType string
	if f.cfg.JSONTokenRequest {
		payload := map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     f.cfg.ClientID,
			"code":          code,
			"redirect_uri":  f.cfg.RedirectURI,
			"code_verifier": f.verifier,
			"state":         state,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(raw))
		contentType = "application/json"
	} else {
		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("client_id", f.cfg.ClientID)
		form.Set("code", code)
		form.Set("redirect_uri", f.cfg.RedirectURI)
		form.Set("code_verifier", f.verifier)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "token exchange failed: "+err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "reading token response: "+err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewAuthenticationError(f.cfg.Backend,
			fmt.Sprintf("token exchange returned %d: %s", resp.StatusCode, truncate(raw, 512)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "decoding token response: "+err.Error())
	}
	if tok.AccessToken == "" {
		return nil, core.NewAuthenticationError(f.cfg.Backend, "token response missing access_token")
	}

	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if f.cfg.Backend == BackendCodex {
		if id, err := ExtractAccountID(tok.AccessToken); err == nil {
			cred.AccountID = id
		} else if tok.IDToken != "" {
			if id, err := ExtractAccountID(tok.IDToken); err == nil {
				cred.AccountID = id
			}
		}
	}

	f.logger.Info("login complete", "expires_at", cred.ExpiresAt)
	return cred, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
