package crossencoder

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/utils"
)

// GatedClient runs Rank through a utils.Gate.
type GatedClient struct {
	Client
	gate *utils.Gate
}

// NewGatedClient wraps client with gate.
func NewGatedClient(client Client, gate *utils.Gate) *GatedClient {
	return &GatedClient{Client: client, gate: gate}
}

func (g *GatedClient) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) ([]RankedPassage, error) {
		return g.Client.Rank(ctx, query, passages)
	})
}
