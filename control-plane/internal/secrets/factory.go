package secrets

import (
	"fmt"
	"log/slog"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
)

// New creates a Resolver for the configured backend.
//
// A secret set directly in config wins. Otherwise "auto" (the default) uses
// 1Password when Connect is configured and falls back to local storage.
func New(ingestSecret string, cfg config.SecretsConfig, logger *slog.Logger) (Resolver, error) {
	logger = logger.With("component", "secrets")

	if ingestSecret != "" {
		return Static(ingestSecret), nil
	}

	op := OnePasswordConfig{Host: cfg.ConnectHost, Token: cfg.ConnectToken, VaultID: cfg.VaultID}

	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		return NewOnePasswordResolver(op, logger)

	case "local":
		return NewLocalResolver(cfg.LocalDir, logger)

	case "auto":
		if op.Host != "" && op.Token != "" {
			r, err := NewOnePasswordResolver(op, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local storage", "error", err)
				return NewLocalResolver(cfg.LocalDir, logger)
			}
			return r, nil
		}
		logger.Info("1Password Connect not configured, using local secret storage")
		return NewLocalResolver(cfg.LocalDir, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}
