package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyOnboarded is returned by PutCredential when a credential row
// already exists. Onboarding is at-most-once.
var ErrAlreadyOnboarded = errors.New("credential already exists")

const timeFormat = time.RFC3339

// Store persists the onboarding credential and bearer tokens. Client
// secret and master key are sealed with the local machine secret before
// they touch disk.
type Store struct {
	db  *sql.DB
	key [keySize]byte
}

// New creates a store backed by database, sealing secrets with secretKey
// (the 32-byte local secret from the secret package).
func New(database *sql.DB, secretKey []byte) (*Store, error) {
	s := &Store{db: database}
	if len(secretKey) != keySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", keySize, len(secretKey))
	}
	copy(s.key[:], secretKey)
	return s, nil
}

// PutCredential inserts the onboarding credential. Fails with
// ErrAlreadyOnboarded if one is already stored.
func (s *Store) PutCredential(c Credential) error {
	has, err := s.HasCredential()
	if err != nil {
		return err
	}
	if has {
		return ErrAlreadyOnboarded
	}

	sealedSecret, err := seal(&s.key, []byte(c.ClientSecret))
	if err != nil {
		return fmt.Errorf("seal client secret: %w", err)
	}
	sealedKey, err := seal(&s.key, []byte(c.MasterKey))
	if err != nil {
		return fmt.Errorf("seal master key: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_credential (uuid, client_id, client_secret, master_key)
		VALUES (?, ?, ?, ?)
	`, c.UUID, c.ClientID, sealedSecret, sealedKey)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential, or nil if not onboarded.
func (s *Store) GetCredential() (*Credential, error) {
	var c Credential
	var sealedSecret, sealedKey string

	err := s.db.QueryRow(`
		SELECT uuid, client_id, client_secret, master_key
		FROM agent_credential LIMIT 1
	`).Scan(&c.UUID, &c.ClientID, &sealedSecret, &sealedKey)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}

	secretBytes, err := open(&s.key, sealedSecret)
	if err != nil {
		return nil, fmt.Errorf("unseal client secret: %w", err)
	}
	keyBytes, err := open(&s.key, sealedKey)
	if err != nil {
		return nil, fmt.Errorf("unseal master key: %w", err)
	}

	c.ClientSecret = string(secretBytes)
	c.MasterKey = string(keyBytes)
	return &c, nil
}

// HasCredential reports whether the bridge has completed onboarding.
func (s *Store) HasCredential() (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM agent_credential").Scan(&count); err != nil {
		return false, fmt.Errorf("count credentials: %w", err)
	}
	return count > 0, nil
}

// PutToken upserts a token by type. A refresh racing with itself is
// last-writer-wins; both writers carry equivalent fresh tokens.
func (s *Store) PutToken(tokenType, token string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO tokens (token, expires_at, token_type)
		VALUES (?, ?, ?)
		ON CONFLICT(token_type) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at
	`, token, expiresAt.UTC().Format(timeFormat), tokenType)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// GetValidToken returns the unexpired token of the given type, or nil if
// no row exists or the stored token has expired.
func (s *Store) GetValidToken(tokenType string) (*Token, error) {
	var t Token
	var expiresAt string

	err := s.db.QueryRow(`
		SELECT token, expires_at, token_type
		FROM tokens
		WHERE token_type = ? AND expires_at > ?
	`, tokenType, time.Now().UTC().Format(timeFormat)).Scan(&t.Token, &expiresAt, &t.Type)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}

	t.ExpiresAt, _ = time.Parse(timeFormat, expiresAt)
	return &t, nil
}
