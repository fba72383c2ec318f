package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LocalKeyStore stores agent credentials on the local filesystem.
// This is intended for development and single-node deployments.
//
// Credentials are stored as one JSON file per agent:
//
//	<base_dir>/
//	  <agent_id>.json
type LocalKeyStore struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]*AgentCredential
}

// NewLocalKeyStore creates a new local filesystem-backed key store.
// If baseDir is empty, it defaults to ~/.deployhub/credentials.
func NewLocalKeyStore(baseDir string, logger *slog.Logger) (*LocalKeyStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".deployhub", "credentials")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	logger.Info("using local credential store", "path", baseDir)

	return &LocalKeyStore{
		baseDir: baseDir,
		logger:  logger,
		cache:   make(map[string]*AgentCredential),
	}, nil
}

func (ks *LocalKeyStore) credentialPath(agentID string) string {
	return filepath.Join(ks.baseDir, agentID+".json")
}

// validAgentID restricts IDs to a charset that cannot traverse out of the
// credential directory. Agent IDs are client-supplied at registration.
func validAgentID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// StoreCredential creates or replaces the credential for an agent.
func (ks *LocalKeyStore) StoreCredential(ctx context.Context, cred *AgentCredential) error {
	if !validAgentID(cred.AgentID) {
		return fmt.Errorf("invalid agent id %q", cred.AgentID)
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	if err := os.WriteFile(ks.credentialPath(cred.AgentID), data, 0600); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}

	ks.mu.Lock()
	ks.cache[cred.AgentID] = cred
	ks.mu.Unlock()
	return nil
}

// GetCredential retrieves an agent's credential from cache or disk.
func (ks *LocalKeyStore) GetCredential(ctx context.Context, agentID string) (*AgentCredential, error) {
	if !validAgentID(agentID) {
		return nil, fmt.Errorf("invalid agent id %q", agentID)
	}
	ks.mu.RLock()
	if cached, ok := ks.cache[agentID]; ok {
		ks.mu.RUnlock()
		return cached, nil
	}
	ks.mu.RUnlock()

	data, err := os.ReadFile(ks.credentialPath(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	var cred AgentCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("parsing credential for %s: %w", agentID, err)
	}

	ks.mu.Lock()
	ks.cache[agentID] = &cred
	ks.mu.Unlock()
	return &cred, nil
}

// Close releases the in-memory cache.
func (ks *LocalKeyStore) Close() error {
	ks.mu.Lock()
	ks.cache = make(map[string]*AgentCredential)
	ks.mu.Unlock()
	return nil
}
