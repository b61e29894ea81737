package strategy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/telemetry"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/shape"
)

// DefaultMaxWorkers is used when NewBatch is given a non-positive worker
// count.
const DefaultMaxWorkers = 4

// DocumentOutcome is the result of one document in a batch.
type DocumentOutcome struct {
	Ref      string
	Result   provider.Result
	Err      error
	Duration time.Duration
}

// BatchContext collects the outcomes of one ProcessBatch call.
type BatchContext struct {
	ID             string
	TotalDocuments int
	StartedAt      time.Time
	FinishedAt     time.Time

	mu        sync.Mutex
	results   map[string]DocumentOutcome
	completed int
	failed    int
}

func newBatchContext(total int) *BatchContext {
	return &BatchContext{
		ID:             uuid.NewString(),
		TotalDocuments: total,
		StartedAt:      time.Now(),
		results:        make(map[string]DocumentOutcome, total),
	}
}

func (b *BatchContext) record(key string, out DocumentOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[key] = out
	if out.Err != nil {
		b.failed++
	} else {
		b.completed++
	}
}

// CompletedCount returns the number of documents that succeeded.
func (b *BatchContext) CompletedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// FailedCount returns the number of documents that failed.
func (b *BatchContext) FailedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Results returns a copy of the outcomes keyed by document. Duplicate
// references are keyed "ref#index".
func (b *BatchContext) Results() map[string]DocumentOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.results)
}

// Duration returns the wall time of the batch.
func (b *BatchContext) Duration() time.Duration {
	if b.FinishedAt.IsZero() {
		return time.Since(b.StartedAt)
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// Err returns nil when every document succeeded, otherwise an error
// wrapping ErrBatchPartialFailure and each document's cause.
func (b *BatchContext) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed == 0 {
		return nil
	}
	errs := []error{ErrBatchPartialFailure}
	for key, out := range b.results {
		if out.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, out.Err))
		}
	}
	return errors.Join(errs...)
}

// Batch processes many documents through one provider with a bounded
// worker pool. Each document is handled like Simple would.
type Batch struct {
	simple  *Simple
	workers int
}

// NewBatch returns a Batch with at most maxWorkers documents in flight.
func NewBatch(p provider.Provider, maxWorkers int, opts ...Option) *Batch {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	s := NewSimple(p, opts...)
	s.name = "batch"
	return &Batch{simple: s, workers: maxWorkers}
}

// Name implements provider.Provider.
func (b *Batch) Name() string { return b.simple.Name() }

// MaxWorkers returns the pool size.
func (b *Batch) MaxWorkers() int { return b.workers }

// Close releases hook registrations.
func (b *Batch) Close() error { return b.simple.Close() }

// Process handles a single document.
func (b *Batch) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return b.simple.Process(ctx, req)
}

// ProcessAsync implements Strategy.
func (b *Batch) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return b.simple.ProcessAsync(ctx, req)
}

// ProcessBatch processes every document and returns once all have
// settled. Per-document failures are recorded in the returned context,
// never returned.
func (b *Batch) ProcessBatch(ctx context.Context, documents []string, instruction string, s *shape.Shape) *BatchContext {
	bc := newBatchContext(len(documents))
	logger.Info("starting batch",
		"batch_id", bc.ID,
		"documents", len(documents),
		"workers", b.workers)

	keys := batchKeys(documents)
	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, ref := range documents {
		g.Go(func() error {
			start := time.Now()
			res, err := b.simple.Process(ctx, &provider.Request{
				DocumentRef: ref,
				Instruction: instruction,
				Shape:       s,
			})
			bc.record(keys[i], DocumentOutcome{Ref: ref, Result: res, Err: err, Duration: time.Since(start)})
			telemetry.BatchDocuments.WithLabelValues(telemetry.Status(err)).Inc()
			if err != nil {
				logger.Warn("batch document failed", "batch_id", bc.ID, "document", ref, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	bc.FinishedAt = time.Now()

	logger.Info("batch finished",
		"batch_id", bc.ID,
		"completed", bc.CompletedCount(),
		"failed", bc.FailedCount(),
		"duration", bc.Duration())
	return bc
}

// ProcessBatchAsync runs ProcessBatch on a goroutine.
func (b *Batch) ProcessBatchAsync(ctx context.Context, documents []string, instruction string, s *shape.Shape) <-chan *BatchContext {
	ch := make(chan *BatchContext, 1)
	go func() { ch <- b.ProcessBatch(ctx, documents, instruction, s) }()
	return ch
}

func batchKeys(documents []string) []string {
	count := map[string]int{}
	for _, ref := range documents {
		count[ref]++
	}
	keys := make([]string, len(documents))
	for i, ref := range documents {
		keys[i] = ref
		if count[ref] > 1 {
			keys[i] = fmt.Sprintf("%s#%d", ref, i)
		}
	}
	return keys
}
