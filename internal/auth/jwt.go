package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtAuthClaim is the namespaced claim the third-party access token stores
// its account metadata under.
const jwtAuthClaim = "https://api.openai.com/auth"

// ExtractAccountID pulls the chatgpt account id out of an access token.
// The token is parsed without signature verification; we only need the
// claim, the backend verifies the token itself.
func ExtractAccountID(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}

	authClaim, ok := claims[jwtAuthClaim].(map[string]any)
	if !ok {
		return "", fmt.Errorf("access token has no %q claim", jwtAuthClaim)
	}
	accountID, ok := authClaim["chatgpt_account_id"].(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("access token claim has no account id")
	}
	return accountID, nil
}
