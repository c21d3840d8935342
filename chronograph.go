package chronograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/chronograph/pkg/alert"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/crossencoder"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/extractor"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/utils"
	"github.com/soundprediction/chronograph/pkg/utils/maintenance"
)

// Client is the engine. It owns the storage driver, the capability
// providers and the gates, locks and clocks shared by every operation.
// Create one with NewClient or New and release it with Close.
type Client struct {
	driver    driver.GraphDriver
	store     *driver.GatedDriver
	extractor extractor.Extractor
	embedder  embedder.Client
	reranker  crossencoder.Client
	searcher  *search.HybridSearcher

	nodeOps *maintenance.NodeOperations
	edgeOps *maintenance.EdgeOperations
	maint   *maintenance.MaintenanceUtils

	gates Gates
	locks *utils.KeyedMutex
	clock *utils.MonotonicClock
	now   func() time.Time

	config  Config
	logger  *slog.Logger
	closers []func() error
}

// Config holds the engine settings that are not provider specific.
type Config struct {
	Ingestion   config.IngestionConfig
	Search      search.Config
	Concurrency config.ConcurrencyConfig
	// Now replaces the wall clock; nil uses time.Now in UTC.
	Now func() time.Time
}

// DefaultConfig mirrors the configuration file defaults.
func DefaultConfig() Config {
	gate := config.GateConfig{
		Limit:             utils.GetSemaphoreLimit(),
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
	storage := gate
	storage.Timeout = 30 * time.Second
	storage.InitialDelay = 200 * time.Millisecond
	return Config{
		Ingestion: config.IngestionConfig{
			NameThreshold:      maintenance.DefaultNameThreshold,
			EmbeddingThreshold: maintenance.DefaultEmbeddingThreshold,
			DuplicateThreshold: maintenance.DefaultDuplicateThreshold,
			ContextEntities:    20,
			ChunkSize:          4096,
		},
		Concurrency: config.ConcurrencyConfig{
			Extraction: gate,
			Embedding:  gate,
			Reranking:  gate,
			Storage:    storage,
		},
	}
}

// ConfigFromSettings extracts the engine settings from a loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Ingestion:   cfg.Ingestion,
		Search:      search.ConfigFromSettings(cfg.Search),
		Concurrency: cfg.Concurrency,
	}
}

// Gates holds one admission gate per external capability.
type Gates struct {
	Extraction *utils.Gate
	Embedding  *utils.Gate
	Reranking  *utils.Gate
	Storage    *utils.Gate
}

// NewGates builds the gates. Model calls are retried on the errors
// nlp.IsRetryableError accepts; storage calls on any error that is not
// permanent.
func NewGates(cfg config.ConcurrencyConfig, logger *slog.Logger) Gates {
	return Gates{
		Extraction: utils.NewGate("extraction", gateConfig(cfg.Extraction, nlp.IsRetryableError), logger),
		Embedding:  utils.NewGate("embedding", gateConfig(cfg.Embedding, nlp.IsRetryableError), logger),
		Reranking:  utils.NewGate("reranking", gateConfig(cfg.Reranking, nlp.IsRetryableError), logger),
		Storage:    utils.NewGate("storage", gateConfig(cfg.Storage, utils.DefaultRetryable), logger),
	}
}

func gateConfig(c config.GateConfig, retryable func(error) bool) utils.GateConfig {
	return utils.GateConfig{
		Limit:   c.Limit,
		Timeout: c.Timeout,
		Retry: &utils.RetryConfig{
			MaxRetries:        c.MaxRetries,
			InitialDelay:      c.InitialDelay,
			MaxDelay:          c.MaxDelay,
			BackoffMultiplier: c.BackoffMultiplier,
		},
		Retryable: retryable,
	}
}

// Options are the collaborators of a Client. Driver and Extractor are
// required. A nil Embedder disables embeddings: ingestion stores no vectors
// and every search is degraded. A nil Reranker ignores rerank requests.
type Options struct {
	Driver    driver.GraphDriver
	Extractor extractor.Extractor
	Embedder  embedder.Client
	Reranker  crossencoder.Client
	Config    Config
	Logger    *slog.Logger
}

// NewClient assembles a Client from ready-made providers. The providers are
// wrapped in the configured gates; they are not closed by Close.
func NewClient(opts Options) (*Client, error) {
	const op = "chronograph.NewClient"
	if opts.Driver == nil {
		return nil, errkind.Ef(errkind.Configuration, op, "a graph driver is required")
	}
	if opts.Extractor == nil {
		return nil, errkind.Ef(errkind.Configuration, op, "an extractor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	gates := NewGates(cfg.Concurrency, logger)

	var emb embedder.Client
	if opts.Embedder != nil {
		emb = embedder.NewGatedClient(opts.Embedder, gates.Embedding)
	}
	var rr crossencoder.Client
	if opts.Reranker != nil {
		rr = crossencoder.NewGatedClient(opts.Reranker, gates.Reranking)
	}

	// Reads made by the searcher and the resolution steps go through the
	// storage gate; writes are gated by the ingestion journal.
	store := driver.NewGatedDriver(opts.Driver, gates.Storage)
	resolver := maintenance.NewTemporalResolver(cfg.Ingestion.DuplicateThreshold, logger)
	return &Client{
		driver:    opts.Driver,
		store:     store,
		extractor: extractor.NewGated(opts.Extractor, gates.Extraction),
		embedder:  emb,
		reranker:  rr,
		searcher:  search.NewHybridSearcher(store, emb, rr, cfg.Search, logger),
		nodeOps: maintenance.NewNodeOperations(store, maintenance.NodeResolutionConfig{
			NameThreshold:      cfg.Ingestion.NameThreshold,
			EmbeddingThreshold: cfg.Ingestion.EmbeddingThreshold,
		}, logger),
		edgeOps: maintenance.NewEdgeOperations(store, resolver, logger),
		maint:   maintenance.NewMaintenanceUtils(store, logger),
		gates:   gates,
		locks:   utils.NewKeyedMutex(),
		clock:   utils.NewMonotonicClock(now),
		now:     now,
		config:  cfg,
		logger:  logger,
	}, nil
}

// New builds every provider from configuration: the storage backend, the
// extraction model (optionally behind a circuit breaker and token usage
// tracking), the embedder and the reranker. Close releases all of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	const op = "chronograph.New"
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	fail := func(err error) (*Client, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	graph, err := driver.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, graph.Close)

	chat, err := newChatClient(cfg, cfg.NLP.APIKey, cfg.NLP.BaseURL, cfg.NLP.Model, "extraction", logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, chat.Close)

	var emb embedder.Client
	switch cfg.Embedding.Provider {
	case "", "none":
		logger.Warn("no embedding provider configured; semantic search is disabled")
	case "openai":
		e, err := embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
			Model:      cfg.Embedding.Model,
			BatchSize:  cfg.Embedding.BatchSize,
			Dimensions: cfg.Embedding.Dimensions,
			BaseURL:    cfg.Embedding.BaseURL,
		})
		if err != nil {
			return fail(err)
		}
		emb = e
		closers = append(closers, e.Close)
	default:
		return fail(errkind.Ef(errkind.Configuration, op, "unsupported embedding provider %q", cfg.Embedding.Provider))
	}

	provider := crossencoder.Provider(cfg.Reranker.Provider)
	rrCfg := crossencoder.DefaultConfig(provider)
	if cfg.Reranker.Model != "" {
		rrCfg.Model = cfg.Reranker.Model
	}
	cc := crossencoder.ClientConfig{Provider: provider, Config: rrCfg, EmbedderClient: emb}
	if provider == crossencoder.ProviderOpenAI {
		baseURL := cfg.Reranker.BaseURL
		if baseURL == "" {
			baseURL = cfg.NLP.BaseURL
		}
		rc, err := newChatClient(cfg, cfg.Reranker.APIKey, baseURL, rrCfg.Model, "reranking", logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rc.Close)
		cc.NLPClient = rc
	}
	rr, err := crossencoder.NewClient(cc)
	if err != nil {
		return fail(err)
	}

	ex := extractor.NewLLMExtractor(chat,
		extractor.WithLogger(logger),
		extractor.WithMaxContinuations(cfg.NLP.MaxContinuations),
	)
	engineCfg := ConfigFromSettings(cfg)
	client, err := NewClient(Options{
		Driver:    graph,
		Extractor: ex,
		Embedder:  emb,
		Reranker:  rr,
		Config:    engineCfg,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}
	client.closers = closers
	logger.Info("chronograph client ready",
		"backend", string(graph.Provider()),
		"model", cfg.NLP.Model,
		"embedder", cfg.Embedding.Provider,
		"reranker", cfg.Reranker.Provider)
	return client, nil
}

// newChatClient builds an OpenAI-compatible chat client with the optional
// circuit breaker and token tracking layers.
func newChatClient(cfg *config.Config, apiKey, baseURL, model, name string, logger *slog.Logger) (nlp.Client, error) {
	nlpCfg := nlp.Config{Model: model, BaseURL: baseURL}
	if name == "extraction" {
		temperature := cfg.NLP.Temperature
		nlpCfg.Temperature = &temperature
		if cfg.NLP.MaxTokens > 0 {
			maxTokens := cfg.NLP.MaxTokens
			nlpCfg.MaxTokens = &maxTokens
		}
	}
	base, err := nlp.NewOpenAIClient(apiKey, nlpCfg)
	if err != nil {
		return nil, err
	}

	var client nlp.Client = base
	if cfg.CircuitBreaker.Enabled {
		client = nlp.NewCircuitBreakerClient(client, cfg.CircuitBreaker, alert.New(cfg.Alert, logger), name, logger)
	}
	if cfg.Telemetry.TokenUsagePath != "" {
		tracker, err := nlp.NewTokenTracker(cfg.Telemetry.TokenUsagePath, 0, logger)
		if err != nil {
			_ = client.Close()
			return nil, errkind.E(errkind.Configuration, "chronograph.newChatClient", err)
		}
		client = nlp.NewTokenTrackingClient(client, tracker)
	}
	return client, nil
}

// Driver returns the storage driver.
func (c *Client) Driver() driver.GraphDriver {
	return c.driver
}

// Searcher returns the hybrid searcher.
func (c *Client) Searcher() *search.HybridSearcher {
	return c.searcher
}

// Gates returns the capability gates.
func (c *Client) Gates() Gates {
	return c.gates
}

// Close releases the providers created by New, most recent first.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to close client: %w", errors.Join(errs...))
	}
	return nil
}
