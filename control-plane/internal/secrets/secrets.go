// Package secrets resolves the shared ingestion secret agents present in
// the X-Pulse-Secret header.
//
// The production backend reads the secret from a 1Password vault through
// 1Password Connect. A local file-based fallback is used for development.
// Either backend generates and stores a secret on first use when none
// exists yet.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Resolver provides the ingestion secret.
type Resolver interface {
	// IngestSecret returns the secret, creating one if it does not exist.
	IngestSecret(ctx context.Context) (string, error)

	// Rotate replaces the secret and returns the new value. Agents holding
	// the old value are rejected from then on.
	Rotate(ctx context.Context) (string, error)

	// Close releases any resources held by the resolver.
	Close() error
}

// DefaultSecretName names the stored secret.
const DefaultSecretName = "pulse-ingest-secret"

// secretBytes is the entropy of a generated secret.
const secretBytes = 32

// GenerateSecret returns a new random hex-encoded secret.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Static is a Resolver for a secret supplied directly through config.
type Static string

func (s Static) IngestSecret(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("ingest secret is empty")
	}
	return string(s), nil
}

func (s Static) Rotate(context.Context) (string, error) {
	return "", fmt.Errorf("a configured ingest secret cannot be rotated")
}

func (Static) Close() error { return nil }
