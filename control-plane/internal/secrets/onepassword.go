package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// vaultClient is the subset of the Connect client the resolver uses.
type vaultClient interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
	CreateItem(item *onepassword.Item, vaultQuery string) (*onepassword.Item, error)
	UpdateItem(item *onepassword.Item, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordResolver stores the secret as a password item in 1Password
// using the Connect API.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault holding the secret
type OnePasswordResolver struct {
	client  vaultClient
	vaultID string
	logger  *slog.Logger

	mu     sync.Mutex
	cached string
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID
}

// NewOnePasswordResolver creates a 1Password-backed resolver.
func NewOnePasswordResolver(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordResolver, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "agent-pulse-control-plane")
	return newOnePasswordResolver(client, cfg.VaultID, logger), nil
}

func newOnePasswordResolver(client vaultClient, vaultID string, logger *slog.Logger) *OnePasswordResolver {
	return &OnePasswordResolver{
		client:  client,
		vaultID: vaultID,
		logger:  logger,
	}
}

// IngestSecret returns the vault secret, creating the item if needed.
func (r *OnePasswordResolver) IngestSecret(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		return r.cached, nil
	}

	item, err := r.find()
	if err != nil {
		return "", fmt.Errorf("checking for existing secret: %w", err)
	}
	if item != nil {
		if secret := passwordOf(item); secret != "" {
			r.cached = secret
			return secret, nil
		}
	}

	r.logger.Info("creating new ingest secret in 1Password", "name", DefaultSecretName)
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := r.store(item, secret); err != nil {
		return "", fmt.Errorf("storing secret in 1Password: %w", err)
	}
	r.cached = secret
	return secret, nil
}

// Rotate replaces the password on the vault item.
func (r *OnePasswordResolver) Rotate(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, err := r.find()
	if err != nil {
		return "", fmt.Errorf("getting current secret: %w", err)
	}
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := r.store(item, secret); err != nil {
		return "", fmt.Errorf("updating secret in 1Password: %w", err)
	}
	r.cached = secret

	r.logger.Info("rotated ingest secret in 1Password")
	return secret, nil
}

// Close clears the cached secret.
func (r *OnePasswordResolver) Close() error {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
	return nil
}

// find returns the full secret item, or nil if none exists.
func (r *OnePasswordResolver) find() (*onepassword.Item, error) {
	items, err := r.client.GetItemsByTitle(DefaultSecretName, r.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	item, err := r.client.GetItem(items[0].ID, r.vaultID)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// store creates the item, or updates existing when it is non-nil.
func (r *OnePasswordResolver) store(existing *onepassword.Item, secret string) error {
	item := &onepassword.Item{
		Title:    DefaultSecretName,
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: r.vaultID},
		Fields: []*onepassword.ItemField{
			{
				ID:      "password",
				Label:   "password",
				Type:    "CONCEALED",
				Purpose: "PASSWORD",
				Value:   secret,
			},
			{
				ID:      "notesPlain",
				Label:   "notesPlain",
				Type:    "STRING",
				Purpose: "NOTES",
				Value:   "agent-pulse ingestion secret, rotated " + time.Now().UTC().Format(time.RFC3339),
			},
		},
	}

	var err error
	if existing == nil {
		_, err = r.client.CreateItem(item, r.vaultID)
	} else {
		item.ID = existing.ID
		_, err = r.client.UpdateItem(item, r.vaultID)
	}
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

func passwordOf(item *onepassword.Item) string {
	for _, f := range item.Fields {
		if f.ID == "password" || f.Purpose == "PASSWORD" {
			return f.Value
		}
	}
	return ""
}

// isNotFoundError checks if an error is a "not found" error from 1Password.
// The SDK does not export typed errors for this, so the message is checked.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") || strings.Contains(msg, "no items")
}
