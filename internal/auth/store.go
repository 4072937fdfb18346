package auth

import (
	"errors"
	"log/slog"
	"sync"

	"llmgate/internal/core"
)

// errReadOnly is returned by Save on stores that cannot persist.
var errReadOnly = errors.New("credential store is read-only")

// Store is a single credential source. Load returns core.ErrNoCredentials
// when the source simply has nothing for the backend; a missing file is
// absence, never an I/O error.
type Store interface {
	Name() string
	Load(backendID string) (*Credential, error)
	Save(backendID string, cred *Credential) error
}

// Discovery tries stores in fixed priority order: the OS keychain, then
// the well-known credential files other CLIs maintain, then the gateway's
// own file. It remembers which sources held a credential so a refresh can
// be written back through all of them.
type Discovery struct {
	stores []Store

	mu      sync.Mutex
	sources map[string][]Store
}

// NewDiscovery builds the default store chain. ownPath is the gateway's
// own credential file.
func NewDiscovery(ownPath string) *Discovery {
	return &Discovery{
		stores: []Store{
			newKeychainStore(),
			newClaudeFileStore(""),
			newCodexFileStore(""),
			NewFileStore(ownPath),
		},
		sources: make(map[string][]Store),
	}
}

// NewDiscoveryWithStores builds a discovery over an explicit chain; used
// by tests and callers with custom paths.
func NewDiscoveryWithStores(stores ...Store) *Discovery {
	return &Discovery{stores: stores, sources: make(map[string][]Store)}
}

// Load returns the first credential any store holds for the backend, or
// core.ErrNoCredentials when none does.
func (d *Discovery) Load(backendID string) (*Credential, error) {
	var found *Credential
	var holders []Store

	for _, s := range d.stores {
		cred, err := s.Load(backendID)
		if err != nil {
			if errors.Is(err, core.ErrNoCredentials) {
				continue
			}
			// A corrupt source should not mask a later valid one.
			slog.Warn("credential store load failed", "store", s.Name(), "backend", backendID, "error", err)
			continue
		}
		holders = append(holders, s)
		if found == nil {
			found = cred
		}
	}

	if found == nil {
		return nil, core.ErrNoCredentials
	}

	d.mu.Lock()
	d.sources[backendID] = holders
	d.mu.Unlock()
	return found, nil
}

// Persist writes the credential through every store that held one for the
// backend, plus the gateway's own store, so external CLIs keep working
// with the refreshed token. Read-only stores are skipped.
func (d *Discovery) Persist(backendID string, cred *Credential) error {
	d.mu.Lock()
	holders := append([]Store(nil), d.sources[backendID]...)
	d.mu.Unlock()

	targets := holders
	if own := d.ownStore(); own != nil && !containsStore(targets, own) {
		targets = append(targets, own)
	}

	var firstErr error
	for _, s := range targets {
		if err := s.Save(backendID, cred); err != nil {
			if errors.Is(err, errReadOnly) {
				continue
			}
			slog.Warn("credential persist failed", "store", s.Name(), "backend", backendID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Discovery) ownStore() Store {
	for _, s := range d.stores {
		if _, ok := s.(*FileStore); ok {
			return s
		}
	}
	return nil
}

func containsStore(stores []Store, target Store) bool {
	for _, s := range stores {
		if s == target {
			return true
		}
	}
	return false
}
