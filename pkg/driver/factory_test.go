package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderFromEnv(t *testing.T) {
	t.Setenv("CHRONOGRAPH_DB_TYPE", "")
	t.Setenv("DB_DRIVER", "")
	assert.Equal(t, types.GraphProviderNeo4j, ProviderFromEnv())

	t.Setenv("DB_DRIVER", "SQLite")
	assert.Equal(t, types.GraphProviderSQLite, ProviderFromEnv())

	t.Setenv("CHRONOGRAPH_DB_TYPE", "falkordb")
	assert.Equal(t, types.GraphProviderFalkorDB, ProviderFromEnv())
}

func TestNewSelectsEmbeddedBackends(t *testing.T) {
	ctx := context.Background()

	d, err := New(ctx, config.DatabaseConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.GraphProviderMemory, d.Provider())

	d, err = New(ctx, config.DatabaseConfig{Driver: "badger"}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.GraphProviderBadger, d.Provider())
	require.NoError(t, d.Close())

	d, err = New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.GraphProviderSQLite, d.Provider())
	require.NoError(t, d.Close())
}

func TestNewConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"unknown backend", config.DatabaseConfig{Driver: "cassandra"}},
		{"neo4j without uri", config.DatabaseConfig{Driver: "neo4j", Username: "neo4j"}},
		{"neo4j without username", config.DatabaseConfig{Driver: "neo4j", URI: "bolt://localhost:7687"}},
		{"sqlite without path", config.DatabaseConfig{Driver: "sqlite"}},
		{"falkordb bad port", config.DatabaseConfig{Driver: "falkordb", FalkorDB: config.FalkorDBConfig{Port: 70000}}},
		{"falkordb bad connection string", config.DatabaseConfig{Driver: "falkordb", FalkorDB: config.FalkorDBConfig{ConnectionString: "http://x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errkind.ErrConfiguration), "got %v", err)
		})
	}
}

func TestNewDefaultsToNeo4jFromEnv(t *testing.T) {
	t.Setenv("CHRONOGRAPH_DB_TYPE", "")
	t.Setenv("DB_DRIVER", "")
	_, err := New(context.Background(), config.DatabaseConfig{}, nil)
	assert.True(t, errkind.Is(errkind.Configuration, err), "neo4j chosen and rejected for missing uri")
}
