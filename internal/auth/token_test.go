package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/core"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	name  string
	mu    sync.Mutex
	creds map[string]*Credential
	saves int
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, creds: make(map[string]*Credential)}
}

func (s *memStore) Name() string { return s.name }

func (s *memStore) Load(backendID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[backendID]
	if !ok {
		return nil, core.ErrNoCredentials
	}
	c := *cred
	return &c, nil
}

func (s *memStore) Save(backendID string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	s.creds[backendID] = &c
	s.saves++
	return nil
}

func (s *memStore) saved(backendID string) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[backendID]
}

func tokenEndpoint(t *testing.T, hits *atomic.Int64, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func managerWithExpiredCred(srvURL string, store Store) *Manager {
	cfg := CodexOAuth()
	cfg.TokenURL = srvURL
	return NewManager(cfg, NewDiscoveryWithStores(store), nil, nil)
}

func TestTokenFastPath(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "fresh",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK, `{}`)
	defer srv.Close()

	mgr := managerWithExpiredCred(srv.URL, store)
	token, err := mgr.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.EqualValues(t, 0, hits.Load(), "a valid token must not trigger a refresh")
}

func TestTokenNoCredentials(t *testing.T) {
	mgr := managerWithExpiredCred("http://invalid", newMemStore("mem"))
	_, err := mgr.Token(context.Background())
	assert.ErrorIs(t, err, core.ErrNoCredentials)
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))
	store.mu.Lock()
	store.saves = 0
	store.mu.Unlock()

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK,
		`{"access_token":"renewed","refresh_token":"r2","expires_in":3600}`)
	defer srv.Close()

	mgr := managerWithExpiredCred(srv.URL, store)

	const workers = 32
	tokens := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = mgr.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "renewed", tokens[i])
	}
	assert.EqualValues(t, 1, hits.Load(), "concurrent callers must share one refresh")

	saved := store.saved(BackendCodex)
	require.NotNil(t, saved)
	assert.Equal(t, "renewed", saved.AccessToken)
	assert.Equal(t, "r2", saved.RefreshToken)
}

func TestRefreshRejectedIsFatal(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	defer srv.Close()

	mgr := managerWithExpiredCred(srv.URL, store)
	_, err := mgr.Token(context.Background())
	require.Error(t, err)

	var gerr *core.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, core.ErrorTypeTokenRefresh, gerr.Type)
	assert.Contains(t, gerr.Body, "invalid_grant", "the upstream body is preserved for diagnosis")
}

func TestRefreshNetworkErrorRetainsCredential(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK,
		`{"access_token":"renewed","refresh_token":"r2","expires_in":3600}`)
	srv.Close() // connection refused on first attempt

	mgr := managerWithExpiredCred(srv.URL, store)
	_, err := mgr.Token(context.Background())
	var gerr *core.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, core.ErrorTypeTokenRefresh, gerr.Type)

	// The stale credential and its refresh token survive, so a later
	// attempt against a healthy endpoint succeeds.
	srv2 := tokenEndpoint(t, &hits, http.StatusOK,
		`{"access_token":"renewed","refresh_token":"r2","expires_in":3600}`)
	defer srv2.Close()

	mgr2 := managerWithExpiredCred(srv2.URL, store)
	token, err := mgr2.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
}

func TestRefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK,
		`{"access_token":"renewed","expires_in":3600}`)
	defer srv.Close()

	mgr := managerWithExpiredCred(srv.URL, store)
	_, err := mgr.Token(context.Background())
	require.NoError(t, err)

	saved := store.saved(BackendCodex)
	require.NotNil(t, saved)
	assert.Equal(t, "r1", saved.RefreshToken)
}

func TestRefreshNotifiesObserver(t *testing.T) {
	store := newMemStore("mem")
	require.NoError(t, store.Save(BackendCodex, &Credential{
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK,
		`{"access_token":"renewed","refresh_token":"r2","expires_in":3600}`)
	defer srv.Close()

	mgr := managerWithExpiredCred(srv.URL, store)
	var notified atomic.Int64
	mgr.OnRefresh(func(backendID string) {
		assert.Equal(t, BackendCodex, backendID)
		notified.Add(1)
	})

	_, err := mgr.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, notified.Load())
}
