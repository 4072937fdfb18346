package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"inside refresh margin", time.Now().Add(60 * time.Second), true},
		{"exactly at expiry", time.Now(), true},
		{"long past expiry", time.Now().Add(-time.Hour), true},
		{"outside refresh margin", time.Now().Add(400 * time.Second), false},
		{"far in the future", time.Now().Add(time.Hour), false},
		{"zero expiry never expires", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{AccessToken: "at", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expired, cred.Expired())
		})
	}
}
