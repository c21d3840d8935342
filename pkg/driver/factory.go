package driver

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
)

// ProviderFromEnv returns the backend named by CHRONOGRAPH_DB_TYPE, then
// DB_DRIVER, defaulting to neo4j.
func ProviderFromEnv() types.GraphProvider {
	for _, key := range []string{"CHRONOGRAPH_DB_TYPE", "DB_DRIVER"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return types.GraphProvider(strings.ToLower(v))
		}
	}
	return types.GraphProviderNeo4j
}

// New builds the backend selected by cfg.Driver. An empty driver falls back
// to ProviderFromEnv. Unknown backends and missing connection parameters are
// Configuration errors raised before any connection is attempted.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (GraphDriver, error) {
	const op = "driver.New"
	if logger == nil {
		logger = slog.Default()
	}

	provider := types.GraphProvider(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if provider == "" {
		provider = ProviderFromEnv()
	}

	logger.Info("creating graph driver", "provider", provider)

	switch provider {
	case types.GraphProviderMemory:
		return NewMemoryDriver(), nil

	case types.GraphProviderBadger:
		return NewBadgerDriver(cfg.Path)

	case types.GraphProviderSQLite:
		if cfg.Path == "" {
			return nil, errkind.Ef(errkind.Configuration, op, "sqlite backend requires database.path")
		}
		return NewSQLiteDriver(ctx, cfg.Path)

	case types.GraphProviderNeo4j:
		if cfg.URI == "" {
			return nil, errkind.Ef(errkind.Configuration, op, "neo4j backend requires database.uri")
		}
		if cfg.Username == "" {
			return nil, errkind.Ef(errkind.Configuration, op, "neo4j backend requires database.username")
		}
		return NewNeo4jDriver(ctx, cfg.URI, cfg.Username, cfg.Password, cfg.Database, logger)

	case types.GraphProviderFalkorDB:
		falkor, err := falkorConfig(cfg.FalkorDB)
		if err != nil {
			return nil, err
		}
		return NewFalkorDriver(ctx, falkor, logger)

	default:
		return nil, errkind.Ef(errkind.Configuration, op, "unknown graph backend %q", provider).
			With("supported", "memory, badger, sqlite, neo4j, falkordb")
	}
}

func falkorConfig(c config.FalkorDBConfig) (*FalkorConfig, error) {
	if c.ConnectionString != "" {
		return ParseFalkorConnectionString(c.ConnectionString)
	}
	fc := &FalkorConfig{Host: c.Host, Port: c.Port, Database: c.Database, Password: c.Password}
	if fc.Host == "" {
		fc.Host = "localhost"
	}
	if fc.Port == 0 {
		fc.Port = 6379
	}
	return fc, fc.Validate()
}
