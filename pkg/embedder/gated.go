package embedder

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/utils"
)

// GatedClient runs every call of an embedder through a utils.Gate, which
// bounds concurrency and applies the attempt timeout and retry policy.
type GatedClient struct {
	Client
	gate *utils.Gate
}

// NewGatedClient wraps client with gate.
func NewGatedClient(client Client, gate *utils.Gate) *GatedClient {
	return &GatedClient{Client: client, gate: gate}
}

func (g *GatedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([][]float32, error) {
		return g.Client.Embed(ctx, texts)
	})
}

func (g *GatedClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]float32, error) {
		return g.Client.EmbedSingle(ctx, text)
	})
}
