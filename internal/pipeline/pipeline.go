// Package pipeline orchestrates QCLCD window loads, METAR ingestion, station
// refreshes, and the request loop that triggers window loads from Kafka.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// RequestExtractor reads up to batchSize run request messages from the source.
type RequestExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RequestMessage, error)
}

// WindowRunner loads one requested window.
type WindowRunner interface {
	RunWindow(ctx context.Context, req domain.RunRequest) (domain.RunResult, error)
}

// ResultPublisher writes run results to the destination.
type ResultPublisher interface {
	PublishResults(ctx context.Context, results []domain.RunResult) error
}

// Runner is the extract-run-publish loop driven by run request messages.
type Runner struct {
	extractor RequestExtractor
	etl       WindowRunner
	publisher ResultPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// NewRunner creates a Runner with the given stages and observability.
func NewRunner(e RequestExtractor, w WindowRunner, p ResultPublisher, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Runner {
	return &Runner{
		extractor: e,
		etl:       w,
		publisher: p,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the runner has completed a batch,
// or an error describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("runner has not completed a batch yet")
	}
	return nil
}

// Run executes the request loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", "batch_size", r.batchSize)
	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !r.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-run-publish cycle. Returns false if the runner should stop.
func (r *Runner) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := r.extractor.ExtractBatch(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("extract batch failed", "error", err)
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	r.metrics.RequestsConsumed.Add(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	published, ok := r.runAndPublish(ctx, batch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if published > 0 {
		r.ready.Store(true)
	}
	return true
}

// runAndPublish decodes and runs each request, publishes the results, and
// commits offsets. Undecodable requests are committed and skipped. Returns the
// number of published results and false if the runner should stop.
func (r *Runner) runAndPublish(ctx context.Context, batch []domain.RequestMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	results := make([]domain.RunResult, 0, len(batch))
	ran := make([]domain.RequestMessage, 0, len(batch))

	for _, msg := range batch {
		req, err := domain.DecodeRunRequest(msg)
		if err != nil {
			r.logger.Warn("decode failed, skipping request",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			r.metrics.RowsSkipped.WithLabelValues("request", SkipDecodeError).Inc()
			r.commit(ctx, msg)
			continue
		}

		// A failed run still produces a result worth publishing.
		res, err := r.etl.RunWindow(ctx, req)
		if err != nil && ctx.Err() != nil {
			return 0, false
		}
		results = append(results, res)
		ran = append(ran, msg)
	}

	if len(results) == 0 {
		return 0, true
	}

	if err := r.publisher.PublishResults(ctx, results); err != nil {
		r.logger.Error("publish results failed", "error", err, "batch_size", len(results))
		return 0, r.backoffOrStop(ctx, backoff, maxBackoff)
	}
	r.metrics.RequestsCompleted.Add(float64(len(results)))

	for _, msg := range ran {
		r.commit(ctx, msg)
	}
	return len(results), true
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the runner should stop.
func (r *Runner) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commit acknowledges the message if a commit function is available.
func (r *Runner) commit(ctx context.Context, msg domain.RequestMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		r.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
