// Package extractor turns an episode into candidate entities and
// relationships.
package extractor

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// Request is the input of one extraction.
type Request struct {
	Episode *types.EpisodicNode
	// ContextEntities are existing entities of the episode's group the model
	// may refer back to, so that new mentions reuse known names.
	ContextEntities []*types.EntityNode
	// PreviousEpisodes disambiguate references; they are not extracted from.
	PreviousEpisodes []*types.EpisodicNode
}

// Extractor extracts candidate entities and edges from an episode. Results
// are normalized: every edge endpoint names an entity of the result.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*types.ExtractionResult, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, req Request) (*types.ExtractionResult, error)

func (f Func) Extract(ctx context.Context, req Request) (*types.ExtractionResult, error) {
	return f(ctx, req)
}

// Gated runs an Extractor through a utils.Gate.
type Gated struct {
	next Extractor
	gate *utils.Gate
}

// NewGated wraps next with gate.
func NewGated(next Extractor, gate *utils.Gate) *Gated {
	return &Gated{next: next, gate: gate}
}

func (g *Gated) Extract(ctx context.Context, req Request) (*types.ExtractionResult, error) {
	return utils.GateDo(ctx, g.gate, func(ctx context.Context) (*types.ExtractionResult, error) {
		return g.next.Extract(ctx, req)
	})
}
