package auth

// Backend ids used for credential discovery and routing.
const (
	BackendAnthropic  = "anthropic"
	BackendOpenRouter = "openrouter"
	BackendCodex      = "codex"
)

// OAuthConfig describes one backend's OAuth endpoints and client identity.
type OAuthConfig struct {
	Backend      string
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scopes       string

	// CallbackAddr and CallbackPath describe the loopback listener for
	// backends whose redirect URI points at localhost. When CallbackAddr
	// is empty the flow falls back to pasting "code#state" by hand, for
	// backends that redirect to a remote page showing the code.
	CallbackAddr string
	CallbackPath string

	// ExtraAuthParams are appended to the authorization URL verbatim.
	ExtraAuthParams map[string]string

	// JSONTokenRequest selects a JSON token-endpoint body instead of
	// the form encoding most providers expect.
	JSONTokenRequest bool
}

// AnthropicOAuth is the first-party OAuth configuration. The redirect
// lands on a console page that displays "code#state" for manual entry.
func AnthropicOAuth() OAuthConfig {
	return OAuthConfig{
		Backend:      BackendAnthropic,
		ClientID:     "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		AuthorizeURL: "https://claude.ai/oauth/authorize",
		TokenURL:     "https://console.anthropic.com/v1/oauth/token",
		RedirectURI:  "https://console.anthropic.com/oauth/code/callback",
		Scopes:       "org:create_api_key user:profile user:inference",
		ExtraAuthParams: map[string]string{
			"code": "true",
		},
		JSONTokenRequest: true,
	}
}

// CodexOAuth is the third-party OAuth configuration, using the loopback
// listener the CLI registered as its redirect target.
func CodexOAuth() OAuthConfig {
	return OAuthConfig{
		Backend:      BackendCodex,
		ClientID:     "app_EMoamEEZ73f0CkXaXp7hrann",
		AuthorizeURL: "https://auth.openai.com/oauth/authorize",
		TokenURL:     "https://auth.openai.com/oauth/token",
		RedirectURI:  "http://localhost:1455/auth/callback",
		Scopes:       "openid profile email offline_access",
		CallbackAddr: "127.0.0.1:1455",
		CallbackPath: "/auth/callback",
		ExtraAuthParams: map[string]string{
			"id_token_add_organizations": "true",
		},
	}
}
