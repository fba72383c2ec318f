package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordKeyStore stores agent credentials in 1Password using the
// Connect API.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault to store credentials in
type OnePasswordKeyStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	// Cache to avoid repeated API calls
	mu    sync.RWMutex
	cache map[string]*AgentCredential
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID
}

// NewOnePasswordKeyStore creates a new 1Password-backed key store.
func NewOnePasswordKeyStore(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordKeyStore, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "deployhub-hub")

	return &OnePasswordKeyStore{
		client:  client,
		vaultID: cfg.VaultID,
		logger:  logger,
		cache:   make(map[string]*AgentCredential),
	}, nil
}

func itemTitle(agentID string) string {
	return "deployhub-agent-" + agentID
}

// StoreCredential creates or replaces the credential for an agent.
func (ks *OnePasswordKeyStore) StoreCredential(ctx context.Context, cred *AgentCredential) error {
	items, err := ks.client.GetItemsByTitle(itemTitle(cred.AgentID), ks.vaultID)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("finding item: %w", err)
	}

	item := ks.credentialToItem(cred)
	if len(items) == 0 {
		_, err = ks.client.CreateItem(item, ks.vaultID)
	} else {
		item.ID = items[0].ID
		_, err = ks.client.UpdateItem(item, ks.vaultID)
	}
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}

	ks.mu.Lock()
	ks.cache[cred.AgentID] = cred
	ks.mu.Unlock()

	ks.logger.Info("stored agent credential", "agent_id", cred.AgentID)
	return nil
}

// GetCredential retrieves an agent's credential.
func (ks *OnePasswordKeyStore) GetCredential(ctx context.Context, agentID string) (*AgentCredential, error) {
	ks.mu.RLock()
	if cached, ok := ks.cache[agentID]; ok {
		ks.mu.RUnlock()
		return cached, nil
	}
	ks.mu.RUnlock()

	items, err := ks.client.GetItemsByTitle(itemTitle(agentID), ks.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	item, err := ks.client.GetItem(items[0].ID, ks.vaultID)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	cred := ks.itemToCredential(agentID, item)

	ks.mu.Lock()
	ks.cache[agentID] = cred
	ks.mu.Unlock()
	return cred, nil
}

// Close releases the in-memory cache.
func (ks *OnePasswordKeyStore) Close() error {
	ks.mu.Lock()
	ks.cache = make(map[string]*AgentCredential)
	ks.mu.Unlock()
	return nil
}

func (ks *OnePasswordKeyStore) credentialToItem(cred *AgentCredential) *onepassword.Item {
	metadata := map[string]any{
		"agent_id":  cred.AgentID,
		"issued_at": cred.IssuedAt.Format(time.RFC3339),
	}
	if cred.RotatedAt != nil {
		metadata["rotated_at"] = cred.RotatedAt.Format(time.RFC3339)
	}
	metadataJSON, _ := json.Marshal(metadata)

	return &onepassword.Item{
		Title:    itemTitle(cred.AgentID),
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: ks.vaultID},
		Fields: []*onepassword.ItemField{
			{
				ID:    "token_hash",
				Label: "token hash",
				Type:  "CONCEALED",
				Value: cred.TokenHash,
			},
			{
				ID:      "notesPlain",
				Label:   "notesPlain",
				Type:    "STRING",
				Value:   string(metadataJSON),
				Purpose: "NOTES",
			},
		},
	}
}

func (ks *OnePasswordKeyStore) itemToCredential(agentID string, item *onepassword.Item) *AgentCredential {
	cred := &AgentCredential{AgentID: agentID}
	for _, field := range item.Fields {
		switch field.ID {
		case "token_hash":
			cred.TokenHash = field.Value
		case "notesPlain":
			var metadata map[string]any
			if err := json.Unmarshal([]byte(field.Value), &metadata); err == nil {
				if iat, ok := metadata["issued_at"].(string); ok {
					if t, err := time.Parse(time.RFC3339, iat); err == nil {
						cred.IssuedAt = t
					}
				}
				if rat, ok := metadata["rotated_at"].(string); ok {
					if t, err := time.Parse(time.RFC3339, rat); err == nil {
						cred.RotatedAt = &t
					}
				}
			}
		}
	}
	return cred
}

// isNotFoundError checks whether a Connect API error indicates a missing item.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
