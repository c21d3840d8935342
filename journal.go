package chronograph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// journal records the writes of one episode so they can be undone in
// reverse order. Every write and every undo goes through the storage gate.
type journal struct {
	store  driver.GraphDriver
	gate   *utils.Gate
	logger *slog.Logger
	undo   []undoStep
}

type undoStep struct {
	what string
	id   string
	fn   func(context.Context) error
}

func newJournal(store driver.GraphDriver, gate *utils.Gate, logger *slog.Logger) *journal {
	return &journal{store: store, gate: gate, logger: logger}
}

func (j *journal) push(what, id string, fn func(context.Context) error) {
	j.undo = append(j.undo, undoStep{what: what, id: id, fn: fn})
}

func (j *journal) createEpisode(ctx context.Context, ep *types.EpisodicNode) error {
	if err := j.gate.Do(ctx, func(ctx context.Context) error { return j.store.CreateEpisode(ctx, ep) }); err != nil {
		return err
	}
	j.push("episode", ep.ID, func(ctx context.Context) error { return j.store.DeleteEpisode(ctx, ep.ID) })
	return nil
}

func (j *journal) createNode(ctx context.Context, n *types.EntityNode) error {
	if err := j.gate.Do(ctx, func(ctx context.Context) error { return j.store.CreateNode(ctx, n) }); err != nil {
		return err
	}
	j.push("node", n.ID, func(ctx context.Context) error { return j.store.DeleteNode(ctx, n.ID) })
	return nil
}

// updateNode overwrites a node; prev is restored on rollback.
func (j *journal) updateNode(ctx context.Context, n, prev *types.EntityNode) error {
	if err := j.gate.Do(ctx, func(ctx context.Context) error { return j.store.UpdateNode(ctx, n) }); err != nil {
		return err
	}
	j.push("node", n.ID, func(ctx context.Context) error { return j.store.UpdateNode(ctx, prev) })
	return nil
}

func (j *journal) createEdge(ctx context.Context, e *types.EntityEdge) error {
	if err := j.gate.Do(ctx, func(ctx context.Context) error { return j.store.CreateEdge(ctx, e) }); err != nil {
		return err
	}
	j.push("edge", e.ID, func(ctx context.Context) error { return j.store.DeleteEdge(ctx, e.ID) })
	return nil
}

// updateEdge overwrites an edge; prev is restored on rollback.
func (j *journal) updateEdge(ctx context.Context, e, prev *types.EntityEdge) error {
	if err := j.gate.Do(ctx, func(ctx context.Context) error { return j.store.UpdateEdge(ctx, e) }); err != nil {
		return err
	}
	j.push("edge", e.ID, func(ctx context.Context) error { return j.store.UpdateEdge(ctx, prev) })
	return nil
}

// rollback undoes every recorded write, newest first. It keeps going past
// failures and returns them joined.
func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		step := j.undo[i]
		if err := j.gate.Do(ctx, step.fn); err != nil {
			j.logger.Error("rollback step failed", "record", step.what, "id", step.id, "error", err)
			errs = append(errs, err)
		}
	}
	j.logger.Info("episode rolled back", "steps", len(j.undo), "failed", len(errs))
	j.undo = nil
	return errors.Join(errs...)
}

// len returns the number of writes recorded.
func (j *journal) len() int {
	return len(j.undo)
}
