// Package auth implements OAuth credential discovery, the PKCE login flow
// and concurrency-safe token refresh for the gateway's OAuth backends.
package auth

import (
	"time"
)

// RefreshMargin is how long before the recorded expiry a credential is
// treated as expired, so refresh happens while the old token still works.
const RefreshMargin = 300 * time.Second

// Credential is an OAuth credential for one backend. It is replaced
// atomically on refresh and never partially mutated.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountID    string    `json:"account_id,omitempty"`
}

// Expired reports whether the credential is within RefreshMargin of its
// expiry, or past it. A zero ExpiresAt never expires.
func (c *Credential) Expired() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(c.ExpiresAt.Add(-RefreshMargin))
}
