package auth

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"fleetbridge/internal/db"
	"fleetbridge/internal/store"
)

type fakeFetcher struct {
	calls     int
	token     string
	expiresIn int
	err       error
}

func (f *fakeFetcher) FetchToken(cred store.Credential, tokenType string) (string, int, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	return f.token, f.expiresIn, nil
}

func setupTestManager(t *testing.T, fetcher TokenFetcher) (*Manager, *store.Store) {
	t.Helper()
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.CreateSchema(database); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	s, err := store.New(database, make([]byte, 32))
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	return NewManager(s, fetcher), s
}

func onboard(t *testing.T, s *store.Store) {
	t.Helper()
	err := s.PutCredential(store.Credential{
		UUID: "u-1", ClientID: "c", ClientSecret: "s", MasterKey: "mk",
	})
	if err != nil {
		t.Fatalf("PutCredential failed: %v", err)
	}
}

func TestEnsureTokenCachesWithinValidity(t *testing.T) {
	fetcher := &fakeFetcher{token: "jwt-1", expiresIn: 3600}
	m, s := setupTestManager(t, fetcher)
	onboard(t, s)

	first, err := m.EnsureToken(store.AccessToken)
	if err != nil {
		t.Fatalf("EnsureToken failed: %v", err)
	}
	second, err := m.EnsureToken(store.AccessToken)
	if err != nil {
		t.Fatalf("EnsureToken (cached) failed: %v", err)
	}

	if first != "jwt-1" || second != "jwt-1" {
		t.Errorf("expected jwt-1 both times, got %q then %q", first, second)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected exactly one upstream call, got %d", fetcher.calls)
	}
}

func TestEnsureTokenRefreshesAfterExpiry(t *testing.T) {
	fetcher := &fakeFetcher{token: "jwt-2", expiresIn: 3600}
	m, s := setupTestManager(t, fetcher)
	onboard(t, s)

	// Simulate a previous run's token that has already expired.
	if err := s.PutToken(store.AccessToken, "jwt-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutToken failed: %v", err)
	}

	got, err := m.EnsureToken(store.AccessToken)
	if err != nil {
		t.Fatalf("EnsureToken failed: %v", err)
	}
	if got != "jwt-2" {
		t.Errorf("expected refreshed token jwt-2, got %q", got)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected exactly one upstream call, got %d", fetcher.calls)
	}

	// The expired row is overwritten, not duplicated.
	tok, err := s.GetValidToken(store.AccessToken)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if tok == nil || tok.Token != "jwt-2" {
		t.Errorf("expected stored jwt-2, got %+v", tok)
	}
}

func TestEnsureTokenNotOnboarded(t *testing.T) {
	fetcher := &fakeFetcher{token: "jwt", expiresIn: 3600}
	m, _ := setupTestManager(t, fetcher)

	if _, err := m.EnsureToken(store.AccessToken); !errors.Is(err, ErrNotOnboarded) {
		t.Errorf("expected ErrNotOnboarded, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher should not be called without credentials, got %d calls", fetcher.calls)
	}
}

func TestEnsureTokenUpstreamFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("503 unavailable")}
	m, s := setupTestManager(t, fetcher)
	onboard(t, s)

	if _, err := m.EnsureToken(store.AccessToken); err == nil {
		t.Error("expected error from upstream failure")
	}
	if fetcher.calls != 1 {
		t.Errorf("expected one attempt, no retry; got %d", fetcher.calls)
	}
}
