// Package secrets provides secure storage for agent credentials.
//
// Agents authenticate to the hub with bearer tokens issued at registration.
// Only the bcrypt hash of a token is stored; the cleartext is returned once
// and never persisted. The primary backend is 1Password Connect for
// production, with a local file-based fallback for development.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AgentCredential is the stored record for one agent's API token.
type AgentCredential struct {
	AgentID   string     `json:"agent_id"`
	TokenHash string     `json:"token_hash"` // bcrypt hash, never the token itself
	IssuedAt  time.Time  `json:"issued_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// KeyStore provides secure storage and retrieval of agent credentials.
type KeyStore interface {
	// StoreCredential creates or replaces the credential for an agent.
	StoreCredential(ctx context.Context, cred *AgentCredential) error

	// GetCredential retrieves an agent's credential. Returns nil if the
	// agent has no stored credential.
	GetCredential(ctx context.Context, agentID string) (*AgentCredential, error)

	// Close releases any resources held by the key store.
	Close() error
}

// IssueToken generates a new agent bearer token and its storable hash.
// The returned token is shown to the agent exactly once.
func IssueToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token = hex.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing token: %w", err)
	}
	return token, string(hashed), nil
}

// VerifyToken compares a presented token against a stored hash.
func VerifyToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
