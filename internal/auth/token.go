package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"fleetbridge/internal/store"
)

// ErrNotOnboarded is returned when no credential exists yet. Every caller
// that needs to talk upstream is stuck until onboarding completes.
var ErrNotOnboarded = errors.New("agent not onboarded")

// TokenFetcher exchanges client credentials for a fresh bearer token.
// Implemented by upstream.Client.
type TokenFetcher interface {
	FetchToken(cred store.Credential, tokenType string) (token string, expiresIn int, err error)
}

// Manager implements get-or-refresh for bearer tokens: a cached,
// unexpired token is returned without any network call; otherwise the
// upstream token endpoint is hit once and the result persisted.
type Manager struct {
	store   *store.Store
	fetcher TokenFetcher
}

// NewManager creates a token manager over the given store and fetcher.
func NewManager(s *store.Store, fetcher TokenFetcher) *Manager {
	return &Manager{store: s, fetcher: fetcher}
}

// EnsureToken returns a valid token of the given type, refreshing it
// upstream if the cached one is absent or expired. No retry here; retry
// policy lives in the router.
func (m *Manager) EnsureToken(tokenType string) (string, error) {
	tok, err := m.store.GetValidToken(tokenType)
	if err != nil {
		return "", fmt.Errorf("token lookup: %w", err)
	}
	if tok != nil {
		return tok.Token, nil
	}

	cred, err := m.store.GetCredential()
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	if cred == nil {
		return "", ErrNotOnboarded
	}

	token, expiresIn, err := m.fetcher.FetchToken(*cred, tokenType)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	if err := m.store.PutToken(tokenType, token, expiresAt); err != nil {
		// The token is still usable this call; losing the cache only
		// costs an extra refresh later.
		log.Printf("[auth] failed to persist %s: %v", tokenType, err)
	}
	return token, nil
}
