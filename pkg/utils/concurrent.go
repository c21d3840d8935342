package utils

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate guards calls to one external capability. Every call waits for one of
// limit slots, runs under a per-attempt timeout and is retried with bounded
// exponential backoff. Waiting for a slot never fails except on cancellation.
type Gate struct {
	name      string
	limit     int64
	sem       *semaphore.Weighted
	timeout   time.Duration
	retry     *RetryConfig
	retryable func(error) bool
	logger    *slog.Logger
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Limit is the number of concurrent calls admitted (default: SEMAPHORE_LIMIT or 20).
	Limit int
	// Timeout bounds each attempt; zero disables the per-attempt deadline.
	Timeout time.Duration
	// Retry controls backoff between attempts.
	Retry *RetryConfig
	// Retryable classifies errors; DefaultRetryable when nil.
	Retryable func(error) bool
}

// NewGate creates a gate for the named capability.
func NewGate(name string, cfg GateConfig, logger *slog.Logger) *Gate {
	if cfg.Limit <= 0 {
		cfg.Limit = GetSemaphoreLimit()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryable
	}
	return &Gate{
		name:      name,
		limit:     int64(cfg.Limit),
		sem:       semaphore.NewWeighted(int64(cfg.Limit)),
		timeout:   cfg.Timeout,
		retry:     cfg.Retry.withDefaults(),
		retryable: cfg.Retryable,
		logger:    logger,
	}
}

// Name returns the capability name.
func (g *Gate) Name() string { return g.name }

// Limit returns the admission limit.
func (g *Gate) Limit() int { return int(g.limit) }

// Do runs op through the gate.
func (g *Gate) Do(ctx context.Context, op func(context.Context) error) error {
	attempt := 0
	return Retry(ctx, g.retry, g.retryable, func(ctx context.Context) error {
		attempt++
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer g.sem.Release(1)

		actx, cancel := ctx, context.CancelFunc(func() {})
		if g.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, g.timeout)
		}
		defer cancel()

		err := op(actx)
		if err != nil {
			g.logger.Debug("capability call failed", "capability", g.name, "attempt", attempt, "error", err)
		}
		return err
	})
}

// GateDo runs op through g and returns its value.
func GateDo[T any](ctx context.Context, g *Gate, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ExecuteWithResults runs functions concurrently with at most maxConcurrency
// in flight and returns results and errors by index.
// Panics in goroutines are recovered and converted to PanicError.
func ExecuteWithResults[T any](ctx context.Context, maxConcurrency int, functions ...func() (T, error)) ([]T, []error) {
	if len(functions) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = GetSemaphoreLimit()
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	results := make([]T, len(functions))
	errors := make([]error, len(functions))
	var wg sync.WaitGroup

	for i, fn := range functions {
		wg.Add(1)
		go func(index int, function func() (T, error)) {
			defer wg.Done()
			defer RecoverWithCallback(func(err error) {
				errors[index] = err
			})

			if err := sem.Acquire(ctx, 1); err != nil {
				errors[index] = err
				return
			}
			defer sem.Release(1)

			results[index], errors[index] = function()
		}(i, fn)
	}

	wg.Wait()
	return results, errors
}

// Batch splits items into consecutive batches of at most batchSize.
func Batch[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = 10
	}

	var batches [][]T
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
