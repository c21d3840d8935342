package embedder

import "context"

// Client computes embeddings.
type Client interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length produced by the model.
	Dimensions() int

	Close() error
}

// Config holds embedding client settings.
type Config struct {
	Model      string `json:"model"`
	BatchSize  int    `json:"batch_size"`
	Dimensions int    `json:"dimensions"`
	BaseURL    string `json:"base_url,omitempty"`
}

const (
	DefaultModel      = "text-embedding-3-small"
	DefaultBatchSize  = 100
	DefaultDimensions = 1536
)

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Dimensions <= 0 {
		if d, ok := modelDimensions[c.Model]; ok {
			c.Dimensions = d
		} else {
			c.Dimensions = DefaultDimensions
		}
	}
	return c
}
