package store

import "time"

// Credential is the one onboarding credential issued by the central
// server. Written exactly once; immutable afterwards.
type Credential struct {
	UUID         string `json:"uuid"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	MasterKey    string `json:"master_key"`
}

// Token is a short-lived bearer token, one row per token type.
type Token struct {
	Token     string
	ExpiresAt time.Time
	Type      string
}

// AccessToken is the token type used for all upstream calls.
const AccessToken = "access_token"
