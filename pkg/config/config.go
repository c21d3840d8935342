package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// NLP configuration (extraction and LLM reranking)
	NLP NLPConfig `mapstructure:"nlp"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Reranker configuration
	Reranker RerankerConfig `mapstructure:"reranker"`

	// Ingestion thresholds
	Ingestion IngestionConfig `mapstructure:"ingestion"`

	// Search defaults
	Search SearchConfig `mapstructure:"search"`

	// Concurrency limits, timeouts and retries per provider
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// MCP tool server configuration
	MCP MCPConfig `mapstructure:"mcp"`
}

// MCPConfig holds settings of the stdio tool server
type MCPConfig struct {
	// DefaultGroupID is used by tool calls that name no group.
	DefaultGroupID string `mapstructure:"default_group_id"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	// ParquetPath is where error-level log records are archived; empty disables it.
	ParquetPath string `mapstructure:"parquet_path"`
	// SQLitePath is a SQLite file that also receives error-level records; empty disables it.
	SQLitePath string `mapstructure:"sqlite_path"`
	// TokenUsagePath is where per-call LLM token usage is archived; empty disables it.
	TokenUsagePath string `mapstructure:"token_usage_path"`
	// Tracing selects the span exporter: "", "stdout" or "otlp".
	Tracing      string `mapstructure:"tracing"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json, color
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, badger, sqlite, neo4j, falkordb
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	// Path is the on-disk location for badger and sqlite.
	Path     string         `mapstructure:"path"`
	FalkorDB FalkorDBConfig `mapstructure:"falkordb"`
}

// FalkorDBConfig holds FalkorDB connection settings
type FalkorDBConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Database         int    `mapstructure:"database"`
	Password         string `mapstructure:"password"`
	ConnectionString string `mapstructure:"connection_string"`
}

// NLPConfig holds the language model used for extraction
type NLPConfig struct {
	Provider    string  `mapstructure:"provider"` // openai or any OpenAI-compatible endpoint
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// MaxContinuations bounds the re-prompts after an unparseable extraction.
	MaxContinuations int `mapstructure:"max_continuations"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai, etc.
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// RerankerConfig selects the reranker
type RerankerConfig struct {
	Provider string `mapstructure:"provider"` // none, openai, embedding
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// IngestionConfig holds the deduplication thresholds
type IngestionConfig struct {
	NameThreshold      float64 `mapstructure:"name_threshold"`
	EmbeddingThreshold float64 `mapstructure:"embedding_threshold"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
	ContextEntities    int     `mapstructure:"context_entities"`
	// ChunkSize splits long text episodes into extraction chunks of at most
	// this many bytes; zero disables chunking.
	ChunkSize int `mapstructure:"chunk_size"`
}

// SearchConfig holds retrieval defaults
type SearchConfig struct {
	Limit           int     `mapstructure:"limit"`
	CandidateLimit  int     `mapstructure:"candidate_limit"`
	MaxHops         int     `mapstructure:"max_hops"`
	Fusion          string  `mapstructure:"fusion"` // weighted, rrf
	SemanticWeight  float64 `mapstructure:"semantic_weight"`
	LexicalWeight   float64 `mapstructure:"lexical_weight"`
	TraversalWeight float64 `mapstructure:"traversal_weight"`
	RerankTopN      int     `mapstructure:"rerank_top_n"`
}

// GateConfig holds the admission limit, attempt timeout and retry policy for
// one external capability.
type GateConfig struct {
	Limit             int           `mapstructure:"limit"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// ConcurrencyConfig holds one gate per external capability
type ConcurrencyConfig struct {
	Extraction GateConfig `mapstructure:"extraction"`
	Embedding  GateConfig `mapstructure:"embedding"`
	Reranking  GateConfig `mapstructure:"reranking"`
	Storage    GateConfig `mapstructure:"storage"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, errkind.E(errkind.Configuration, "config.Load", fmt.Errorf("unable to decode config: %w", err))
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	for name, v := range map[string]float64{
		"ingestion.name_threshold":      c.Ingestion.NameThreshold,
		"ingestion.embedding_threshold": c.Ingestion.EmbeddingThreshold,
		"ingestion.duplicate_threshold": c.Ingestion.DuplicateThreshold,
	} {
		if v < 0 || v > 1 {
			return errkind.Ef(errkind.Configuration, op, "%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Search.SemanticWeight < 0 || c.Search.LexicalWeight < 0 || c.Search.TraversalWeight < 0 {
		return errkind.Ef(errkind.Configuration, op, "search weights must be non-negative")
	}
	switch c.Search.Fusion {
	case "", "weighted", "rrf":
	default:
		return errkind.Ef(errkind.Configuration, op, "unknown search.fusion %q", c.Search.Fusion)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.driver", "neo4j")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.username", "neo4j")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "neo4j")
	viper.SetDefault("database.path", "./chronograph_db")
	viper.SetDefault("database.falkordb.host", "localhost")
	viper.SetDefault("database.falkordb.port", 6379)

	viper.SetDefault("nlp.provider", "openai")
	viper.SetDefault("nlp.model", "gpt-4o-mini")
	viper.SetDefault("nlp.temperature", 0.0)
	viper.SetDefault("nlp.max_tokens", 4096)
	viper.SetDefault("nlp.max_continuations", 2)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.batch_size", 64)

	viper.SetDefault("reranker.provider", "none")

	viper.SetDefault("ingestion.name_threshold", 0.9)
	viper.SetDefault("ingestion.embedding_threshold", 0.92)
	viper.SetDefault("ingestion.duplicate_threshold", 0.9)
	viper.SetDefault("ingestion.context_entities", 20)
	viper.SetDefault("ingestion.chunk_size", 4096)

	viper.SetDefault("search.limit", 10)
	viper.SetDefault("search.candidate_limit", 50)
	viper.SetDefault("search.max_hops", 2)
	viper.SetDefault("search.fusion", "weighted")
	viper.SetDefault("search.semantic_weight", 1.0)
	viper.SetDefault("search.lexical_weight", 1.0)
	viper.SetDefault("search.traversal_weight", 1.0)
	viper.SetDefault("search.rerank_top_n", 20)

	for _, gate := range []string{"extraction", "embedding", "reranking", "storage"} {
		viper.SetDefault("concurrency."+gate+".limit", 20)
		viper.SetDefault("concurrency."+gate+".timeout", 60*time.Second)
		viper.SetDefault("concurrency."+gate+".max_retries", 3)
		viper.SetDefault("concurrency."+gate+".initial_delay", time.Second)
		viper.SetDefault("concurrency."+gate+".max_delay", 30*time.Second)
		viper.SetDefault("concurrency."+gate+".backoff_multiplier", 2.0)
	}
	viper.SetDefault("concurrency.storage.timeout", 30*time.Second)
	viper.SetDefault("concurrency.storage.initial_delay", 200*time.Millisecond)

	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	viper.SetDefault("telemetry.service_name", "chronograph")
	viper.SetDefault("mcp.default_group_id", "default")

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.chronograph/telemetry", home)
		viper.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.NLP.APIKey == "" {
			config.NLP.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
		if config.Reranker.APIKey == "" {
			config.Reranker.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.NLP.BaseURL == "" {
		config.NLP.BaseURL = baseURL
	}

	// Backend selection; CHRONOGRAPH_DB_TYPE wins over the generic DB_DRIVER.
	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbType := os.Getenv("CHRONOGRAPH_DB_TYPE"); dbType != "" {
		config.Database.Driver = dbType
	}
	if dbURI := os.Getenv("DB_URI"); dbURI != "" {
		config.Database.URI = dbURI
	}

	// Database credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		config.Database.Database = db
	}

	if path := os.Getenv("BADGER_PATH"); path != "" && config.Database.Driver == "badger" {
		config.Database.Path = path
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" && config.Database.Driver == "sqlite" {
		config.Database.Path = path
	}

	falkor := &config.Database.FalkorDB
	if host := os.Getenv("FALKORDB_HOST"); host != "" {
		falkor.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("FALKORDB_PORT")); err == nil {
		falkor.Port = port
	}
	if db, err := strconv.Atoi(os.Getenv("FALKORDB_DATABASE")); err == nil {
		falkor.Database = db
	}
	if pass := os.Getenv("FALKORDB_PASSWORD"); pass != "" {
		falkor.Password = pass
	}
	if cs := os.Getenv("FALKORDB_CONNECTION_STRING"); cs != "" {
		falkor.ConnectionString = cs
	}

	if limit, err := strconv.Atoi(os.Getenv("SEMAPHORE_LIMIT")); err == nil && limit > 0 {
		config.Concurrency.Extraction.Limit = limit
		config.Concurrency.Embedding.Limit = limit
		config.Concurrency.Reranking.Limit = limit
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("SERVER_PORT")); err == nil {
		config.Server.Port = port
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
	if path := os.Getenv("TELEMETRY_SQLITE_PATH"); path != "" {
		config.Telemetry.SQLitePath = path
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Telemetry.OTLPEndpoint = endpoint
		if config.Telemetry.Tracing == "" {
			config.Telemetry.Tracing = "otlp"
		}
	}
}
