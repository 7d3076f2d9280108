package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LocalResolver keeps the secret in a file on the local filesystem.
// This is intended for development and testing only.
//
//	<base_dir>/
//	  pulse-ingest-secret          (current secret, 0600)
//	  pulse-ingest-secret.<stamp>  (rotated secrets)
type LocalResolver struct {
	baseDir string
	logger  *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewLocalResolver creates a local resolver.
// If baseDir is empty, it defaults to ~/.pulse/secrets.
func NewLocalResolver(baseDir string, logger *slog.Logger) (*LocalResolver, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".pulse", "secrets")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}

	logger.Info("using local secret store", "path", baseDir)

	return &LocalResolver{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// IngestSecret returns the stored secret, creating one if it doesn't exist.
func (r *LocalResolver) IngestSecret(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		return r.cached, nil
	}

	secret, err := r.load()
	if err != nil {
		return "", err
	}
	if secret == "" {
		r.logger.Info("creating new ingest secret", "name", DefaultSecretName)
		if secret, err = GenerateSecret(); err != nil {
			return "", err
		}
		if err := r.save(secret); err != nil {
			return "", err
		}
	}

	r.cached = secret
	return secret, nil
}

// Rotate archives the current secret and writes a new one.
func (r *LocalResolver) Rotate(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.load()
	if err != nil {
		return "", fmt.Errorf("loading old secret: %w", err)
	}
	if old != "" {
		archive := filepath.Join(r.baseDir, fmt.Sprintf("%s.%s", DefaultSecretName, time.Now().Format("20060102-150405")))
		if err := os.WriteFile(archive, []byte(old), 0600); err != nil {
			r.logger.Warn("failed to archive old secret", "error", err)
		}
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := r.save(secret); err != nil {
		return "", err
	}
	r.cached = secret

	r.logger.Info("rotated ingest secret")
	return secret, nil
}

// Close clears the cached secret.
func (r *LocalResolver) Close() error {
	r.mu.Lock()
	r.cached = ""
	r.mu.Unlock()
	return nil
}

func (r *LocalResolver) path() string {
	return filepath.Join(r.baseDir, DefaultSecretName)
}

// load returns "" when no secret has been written yet.
func (r *LocalResolver) load() (string, error) {
	data, err := os.ReadFile(r.path())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *LocalResolver) save(secret string) error {
	if err := os.WriteFile(r.path(), []byte(secret), 0600); err != nil {
		return fmt.Errorf("writing secret: %w", err)
	}
	return nil
}
