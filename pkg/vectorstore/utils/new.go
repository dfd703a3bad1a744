// Package storeutils constructs vector store adapters from config.
package storeutils

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/vectorstore"
	"github.com/loomsearch/loom/pkg/vectorstore/chroma"
	"github.com/loomsearch/loom/pkg/vectorstore/memstore"
	"github.com/loomsearch/loom/pkg/vectorstore/pgvector"
	"github.com/loomsearch/loom/pkg/vectorstore/qdrantstore"
	"github.com/loomsearch/loom/pkg/vectorstore/sqlitevec"
)

// NewAdapterOpts selects and configures a backend. Secrets (DSN, API
// key) are read from the environment, never passed through persisted
// config.
type NewAdapterOpts struct {
	// Provider is one of: memory, sqlite, pgvector, qdrant, chroma.
	Provider string

	// Target is the provider-specific locator: a file path for
	// sqlite, a URL for chroma, host:port for qdrant. Unused for
	// memory and pgvector.
	Target string

	Logger *zap.Logger
}

// Environment variables carrying backend secrets.
const (
	EnvPgvectorDSN  = "LOOM_STORE_PGVECTOR_DSN"
	EnvQdrantAPIKey = "LOOM_STORE_QDRANT_API_KEY"
)

// NewAdapter constructs the adapter named by opts.Provider.
func NewAdapter(ctx context.Context, o *NewAdapterOpts) (vectorstore.Adapter, error) {
	switch o.Provider {
	case "memory":
		return memstore.New(o.Logger), nil

	case "sqlite":
		return sqlitevec.New(sqlitevec.Config{DBPath: o.Target}, o.Logger)

	case "pgvector":
		dsn := os.Getenv(EnvPgvectorDSN)
		if dsn == "" {
			return nil, fmt.Errorf("%w: %s is not set", vectorstore.ErrInvalidConfig, EnvPgvectorDSN)
		}
		return pgvector.New(ctx, pgvector.Config{DSN: dsn}, o.Logger)

	case "qdrant":
		host, port, useTLS, err := parseQdrantTarget(o.Target)
		if err != nil {
			return nil, err
		}
		return qdrantstore.New(qdrantstore.Config{
			Host:   host,
			Port:   port,
			APIKey: os.Getenv(EnvQdrantAPIKey),
			UseTLS: useTLS,
		}, o.Logger)

	case "chroma":
		return chroma.New(chroma.Config{URL: o.Target}, o.Logger)

	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.Provider)
	}
}

func parseQdrantTarget(target string) (string, int, bool, error) {
	if target == "" {
		return "", 0, false, fmt.Errorf("%w: qdrant target is required", vectorstore.ErrInvalidConfig)
	}

	// Accept either host:port or a URL (https implies TLS).
	useTLS := false
	host := target
	port := 0

	if u, err := url.Parse(target); err == nil && u.Host != "" {
		useTLS = u.Scheme == "https"
		host = u.Hostname()
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
	} else if h, p, err := splitHostPort(target); err == nil {
		host = h
		port = p
	}

	return host, port, useTLS, nil
}

func splitHostPort(s string) (string, int, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			port, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return "", 0, err
			}
			return s[:i], port, nil
		}
	}
	return s, 0, nil
}
