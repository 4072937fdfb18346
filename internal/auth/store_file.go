package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llmgate/internal/core"
)

// credentialFileVersion guards the gateway's own file format.
const credentialFileVersion = 1

// FileStore is the gateway's own credential file: versioned JSON, one
// entry per backend, rewritten whole on every update.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type credentialFile struct {
	Version  int                         `json:"version"`
	Backends map[string]storedCredential `json:"backends"`
}

type storedCredential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	AccountID    string `json:"account_id,omitempty"`
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string { return "file" }

// Load reads the backend's credential. A missing file or entry is
// core.ErrNoCredentials.
func (s *FileStore) Load(backendID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}
	stored, ok := file.Backends[backendID]
	if !ok || stored.AccessToken == "" {
		return nil, core.ErrNoCredentials
	}
	return &Credential{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    time.Unix(stored.ExpiresAt, 0),
		AccountID:    stored.AccountID,
	}, nil
}

// Save rewrites the whole file with the backend's entry replaced, creating
// parent directories on demand.
func (s *FileStore) Save(backendID string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		file = &credentialFile{}
	}
	file.Version = credentialFileVersion
	if file.Backends == nil {
		file.Backends = make(map[string]storedCredential)
	}
	file.Backends[backendID] = storedCredential{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt.Unix(),
		AccountID:    cred.AccountID,
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileStore) read() (*credentialFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNoCredentials
		}
		return nil, err
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return &file, nil
}
