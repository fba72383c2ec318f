package secrets

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIssueAndVerifyToken(t *testing.T) {
	token, hash, err := IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" || hash == "" || token == hash {
		t.Fatalf("unexpected token/hash: %q / %q", token, hash)
	}

	if !VerifyToken(hash, token) {
		t.Error("expected token to verify against its hash")
	}
	if VerifyToken(hash, "wrong-token") {
		t.Error("expected wrong token to fail verification")
	}

	// Each issuance is unique.
	token2, _, err := IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == token2 {
		t.Error("expected distinct tokens per issuance")
	}
}

func TestLocalKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	ks, err := NewLocalKeyStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalKeyStore: %v", err)
	}
	defer ks.Close()

	missing, err := ks.GetCredential(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown agent, got %+v", missing)
	}

	cred := &AgentCredential{
		AgentID:   "agent-1",
		TokenHash: "$2a$10$example",
		IssuedAt:  time.Now().Truncate(time.Second),
	}
	if err := ks.StoreCredential(ctx, cred); err != nil {
		t.Fatalf("StoreCredential: %v", err)
	}

	got, err := ks.GetCredential(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got == nil || got.TokenHash != cred.TokenHash {
		t.Errorf("unexpected credential: %+v", got)
	}

	// Survives a cold cache.
	ks.Close()
	got, err = ks.GetCredential(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetCredential after close: %v", err)
	}
	if got == nil || got.AgentID != "agent-1" {
		t.Errorf("credential did not survive cache clear: %+v", got)
	}
}

func TestLocalKeyStoreRejectsUnsafeAgentIDs(t *testing.T) {
	ctx := context.Background()
	ks, err := NewLocalKeyStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalKeyStore: %v", err)
	}
	defer ks.Close()

	bad := []string{
		"",
		"../escape",
		"../../etc/passwd",
		"a/b",
		`a\b`,
		"agent 1",
		"agent.1",
	}
	for _, id := range bad {
		if err := ks.StoreCredential(ctx, &AgentCredential{AgentID: id, TokenHash: "h"}); err == nil {
			t.Errorf("StoreCredential(%q): expected error", id)
		}
		if _, err := ks.GetCredential(ctx, id); err == nil {
			t.Errorf("GetCredential(%q): expected error", id)
		}
	}

	// The whole generated-ID alphabet stays valid.
	if err := ks.StoreCredential(ctx, &AgentCredential{AgentID: "Agent_01-ab", TokenHash: "h"}); err != nil {
		t.Errorf("StoreCredential: %v", err)
	}
}
