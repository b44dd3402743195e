package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Validate checks Config for problems that would fail at startup.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		errs = append(errs, fmt.Sprintf("GRPC_PORT must be 1–65535, got %d", c.GRPC.Port))
	}

	// Memory store
	switch c.Memory.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when MEMORY_STORE=postgres")
		}
		if c.DB.Port < 1 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
		}
	case StoreSQLite:
		if c.Memory.SQLitePath == "" {
			errs = append(errs, "MEMORY_SQLITE_PATH is required when MEMORY_STORE=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("MEMORY_STORE must be one of memory, postgres, sqlite; got %q", c.Memory.Store))
	}
	if c.Memory.DefaultLimit > c.Memory.MaxResults {
		errs = append(errs, "MEMORY_DEFAULT_LIMIT must not exceed MEMORY_MAX_RESULTS")
	}

	// Embeddings
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, fmt.Sprintf("EMBEDDING_DIMENSIONS must be positive, got %d", c.Embedding.Dimensions))
	}
	switch c.Embedding.Provider {
	case "none", "ollama":
	case "openai":
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			errs = append(errs, "EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("EMBEDDING_PROVIDER must be one of none, openai, ollama; got %q", c.Embedding.Provider))
	}

	// Conversation context
	switch c.Context.Store {
	case StoreMemory:
	case StoreRedis:
		if !c.Redis.Enabled {
			errs = append(errs, "REDIS_ENABLED must be true when CONTEXT_STORE=redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("CONTEXT_STORE must be one of memory, redis; got %q", c.Context.Store))
	}
	if c.Context.KeepEntries > c.Context.MaxEntries {
		errs = append(errs, "CONTEXT_KEEP_ENTRIES must not exceed CONTEXT_MAX_ENTRIES")
	}

	// Redis-backed features
	if c.Redis.Enabled && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}
	if (c.RateLimit.HTTPRequests > 0 || c.RateLimit.UserMessages > 0) && !c.Redis.Enabled {
		errs = append(errs, "REDIS_ENABLED must be true when rate limiting is configured")
	}

	// XMPP rides on NATS
	if c.XMPP.Enabled {
		if !c.NATS.Enabled {
			errs = append(errs, "NATS_ENABLED must be true when XMPP_ENABLED=true")
		}
		if c.XMPP.ComponentSecret == "" {
			errs = append(errs, "XMPP_COMPONENT_SECRET is required when XMPP_ENABLED=true")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level))
	}

	// Warnings only
	if c.GRPC.Enabled && c.GRPC.APIKey == "" {
		slog.Warn("GRPC_API_KEY is empty, gRPC server has no authentication")
	}
	if c.Generator.APIKey == "" {
		slog.Warn("GENERATOR_API_KEY is empty, replies come from the echo generator")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
