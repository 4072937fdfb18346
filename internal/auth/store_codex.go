package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"llmgate/internal/core"
)

// codexFileStore reads and updates the auth file the third-party CLI
// keeps at ~/.codex/auth.json. The file carries no expiry, so one is
// derived from its modification time plus the token's nominal hour.
type codexFileStore struct {
	mu   sync.Mutex
	path string
}

type codexAuthFile struct {
	Tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id,omitempty"`
	} `json:"tokens"`
	LastRefresh string `json:"last_refresh,omitempty"`
}

func newCodexFileStore(path string) *codexFileStore {
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".codex", "auth.json")
	}
	return &codexFileStore{path: path}
}

func (s *codexFileStore) Name() string { return "codex-file" }

func (s *codexFileStore) Load(backendID string) (*Credential, error) {
	if backendID != BackendCodex {
		return nil, core.ErrNoCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, core.ErrNoCredentials
	}
	var file codexAuthFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, core.ErrNoCredentials
	}
	if file.Tokens.AccessToken == "" {
		return nil, core.ErrNoCredentials
	}

	accountID := file.Tokens.AccountID
	if accountID == "" {
		accountID, _ = ExtractAccountID(file.Tokens.AccessToken)
	}

	expiresAt := time.Now().Add(time.Hour)
	if info, err := os.Stat(s.path); err == nil {
		expiresAt = info.ModTime().Add(time.Hour)
	}

	return &Credential{
		AccessToken:  file.Tokens.AccessToken,
		RefreshToken: file.Tokens.RefreshToken,
		ExpiresAt:    expiresAt,
		AccountID:    accountID,
	}, nil
}

func (s *codexFileStore) Save(backendID string, cred *Credential) error {
	if backendID != BackendCodex {
		return errReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		return errReadOnly
	}

	var file codexAuthFile
	file.Tokens.AccessToken = cred.AccessToken
	file.Tokens.RefreshToken = cred.RefreshToken
	file.Tokens.AccountID = cred.AccountID
	file.LastRefresh = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// keychainStore reads the third-party CLI's credentials from the macOS
// keychain. Read-only; nothing to do on other platforms.
type keychainStore struct {
	service string
}

func newKeychainStore() *keychainStore {
	return &keychainStore{service: "Codex Auth"}
}

func (s *keychainStore) Name() string { return "keychain" }

func (s *keychainStore) Load(backendID string) (*Credential, error) {
	if backendID != BackendCodex || runtime.GOOS != "darwin" {
		return nil, core.ErrNoCredentials
	}

	home, _ := os.UserHomeDir()
	account := keychainAccount(filepath.Join(home, ".codex"))

	out, err := exec.Command("security", "find-generic-password",
		"-s", s.service, "-a", account, "-w").Output()
	if err != nil {
		return nil, core.ErrNoCredentials
	}

	var file codexAuthFile
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &file); err != nil {
		return nil, core.ErrNoCredentials
	}
	if file.Tokens.AccessToken == "" {
		return nil, core.ErrNoCredentials
	}

	accountID := file.Tokens.AccountID
	if accountID == "" {
		accountID, _ = ExtractAccountID(file.Tokens.AccessToken)
	}

	expiresAt := time.Now().Add(time.Hour)
	if file.LastRefresh != "" {
		if t, err := time.Parse(time.RFC3339, file.LastRefresh); err == nil {
			expiresAt = t.Add(time.Hour)
		}
	}

	return &Credential{
		AccessToken:  file.Tokens.AccessToken,
		RefreshToken: file.Tokens.RefreshToken,
		ExpiresAt:    expiresAt,
		AccountID:    accountID,
	}, nil
}

func (s *keychainStore) Save(string, *Credential) error {
	return errReadOnly
}

// keychainAccount derives the keychain account name from the CLI home
// path, mirroring how the CLI itself names its entry.
func keychainAccount(codexHome string) string {
	sum := sha256.Sum256([]byte(codexHome))
	return "cli|" + hex.EncodeToString(sum[:])[:16]
}
