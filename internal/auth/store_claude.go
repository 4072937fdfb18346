package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llmgate/internal/core"
)

// claudeFileStore reads and updates the credential file the first-party
// CLI maintains. Only the anthropic backend lives here. Saves update the
// file in place and only when it already exists; we never create it.
type claudeFileStore struct {
	mu   sync.Mutex
	path string
}

func newClaudeFileStore(path string) *claudeFileStore {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".claude", ".credentials.json")
	}
	return &claudeFileStore{path: path}
}

func (s *claudeFileStore) Name() string { return "claude-file" }

func (s *claudeFileStore) Load(backendID string) (*Credential, error) {
	if backendID != BackendAnthropic {
		return nil, core.ErrNoCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, core.ErrNoCredentials
	}

	var file map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, core.ErrNoCredentials
	}

	var oauth struct {
		AccessToken  string  `json:"accessToken"`
		RefreshToken string  `json:"refreshToken"`
		ExpiresAt    float64 `json:"expiresAt"`
	}
	raw, ok := file["claudeAiOauth"]
	if !ok {
		return nil, core.ErrNoCredentials
	}
	if err := json.Unmarshal(raw, &oauth); err != nil {
		return nil, core.ErrNoCredentials
	}
	if oauth.AccessToken == "" || oauth.RefreshToken == "" || oauth.ExpiresAt == 0 {
		return nil, core.ErrNoCredentials
	}

	return &Credential{
		AccessToken:  oauth.AccessToken,
		RefreshToken: oauth.RefreshToken,
		ExpiresAt:    fromEpoch(oauth.ExpiresAt),
	}, nil
}

func (s *claudeFileStore) Save(backendID string, cred *Credential) error {
	if backendID != BackendAnthropic {
		return errReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		// Never create the external CLI's file for it.
		return errReadOnly
	}

	var file map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return errReadOnly
	}
	if _, ok := file["claudeAiOauth"]; !ok {
		return errReadOnly
	}

	var oauth map[string]any
	if err := json.Unmarshal(file["claudeAiOauth"], &oauth); err != nil {
		oauth = make(map[string]any)
	}
	oauth["accessToken"] = cred.AccessToken
	oauth["refreshToken"] = cred.RefreshToken
	oauth["expiresAt"] = cred.ExpiresAt.UnixMilli()

	updated, err := json.Marshal(oauth)
	if err != nil {
		return err
	}
	file["claudeAiOauth"] = updated

	out, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

// fromEpoch converts a seconds-or-milliseconds epoch value; the external
// file stores milliseconds.
func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v))
	}
	return time.Unix(int64(v), 0)
}
