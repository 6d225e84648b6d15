package indexing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/catalog"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

var ErrReindexInProgress = errors.New("reindex already in progress")

type Trigger string

const (
	TriggerStartup       Trigger = "startup"
	TriggerSchedule      Trigger = "schedule"
	TriggerManual        Trigger = "manual"
	TriggerCatalogChange Trigger = "catalog_change"
)

type Fetcher interface {
	FetchAll(ctx context.Context) ([]models.CatalogRecord, error)
}

type BulkWriter interface {
	BulkIndex(ctx context.Context, docs []models.IndexDocument) (models.BulkResult, error)
}

// Lease extends mutual exclusion beyond this process. Acquire returns false
// when another holder has it.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RunObserver is told about every finished pass, after the in-progress gate
// is released.
type RunObserver interface {
	ReindexFinished(ctx context.Context, event *models.ReindexEvent) error
}

// Report describes one pass. Processed is the number of catalog records the
// pass submitted, counted from the fetched input; it is 0 when the fetch or
// the bulk request failed, or nothing was fetched. Acknowledged is what the
// engine accepted.
type Report struct {
	RunID        string
	Trigger      Trigger
	Fetched      int
	Mapped       int
	Skipped      int
	Processed    int
	Acknowledged int
	Failed       int
	StartedAt    time.Time
	Duration     time.Duration
}

type Reindexer struct {
	fetcher   Fetcher
	writer    BulkWriter
	lease     Lease
	observers []RunObserver
	logger    *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

type Option func(*Reindexer)

func WithLease(l Lease) Option {
	return func(r *Reindexer) {
		r.lease = l
	}
}

func WithObserver(o RunObserver) Option {
	return func(r *Reindexer) {
		r.observers = append(r.observers, o)
	}
}

func NewReindexer(fetcher Fetcher, writer BulkWriter, logger *zap.Logger, opts ...Option) *Reindexer {
	r := &Reindexer{
		fetcher: fetcher,
		writer:  writer,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReindexAll runs one manual pass.
func (r *Reindexer) ReindexAll(ctx context.Context) (Report, error) {
	return r.Reindex(ctx, TriggerManual)
}

// Running reports whether a pass is in flight in this process.
func (r *Reindexer) Running() bool {
	return r.running.Load()
}

// Reindex runs one fetch, map and bulk-write pass. It returns
// ErrReindexInProgress without side effects when another pass holds the
// gate. A started pass ignores cancellation of ctx and runs to completion;
// its outbound calls are bounded by their own timeouts.
func (r *Reindexer) Reindex(ctx context.Context, trigger Trigger) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		observability.ReindexRunsTotal.WithLabelValues(string(trigger), "skipped").Inc()
		return Report{Trigger: trigger}, ErrReindexInProgress
	}
	observability.ReindexInProgress.Set(1)

	ctx = context.WithoutCancel(ctx)
	report := Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx)
		switch {
		case err != nil:
			r.logger.Warn("reindex lease unavailable, continuing with local exclusion only",
				zap.String("run_id", report.RunID),
				zap.Error(err),
			)
		case !ok:
			r.release()
			observability.ReindexRunsTotal.WithLabelValues(string(trigger), "skipped").Inc()
			return Report{Trigger: trigger}, ErrReindexInProgress
		default:
			defer func() {
				if err := r.lease.Release(ctx); err != nil {
					r.logger.Warn("releasing reindex lease", zap.String("run_id", report.RunID), zap.Error(err))
				}
			}()
		}
	}

	err := r.runGuarded(ctx, &report)
	report.Duration = time.Since(report.StartedAt)
	r.release()

	r.record(report, err)
	r.notify(report, err)
	return report, err
}

func (r *Reindexer) release() {
	r.running.Store(false)
	observability.ReindexInProgress.Set(0)
}

// runGuarded turns a panic into an error so the gate is always released.
func (r *Reindexer) runGuarded(ctx context.Context, report *Report) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			report.Processed = 0
			err = fmt.Errorf("reindex pass panicked: %v", rec)
		}
	}()
	return r.run(ctx, report)
}

func (r *Reindexer) run(ctx context.Context, report *Report) error {
	ctx, span := observability.StartSpan(ctx, "indexing.Reindex",
		attribute.String("reindex.run_id", report.RunID),
		attribute.String("reindex.trigger", string(report.Trigger)),
	)
	defer span.End()

	logger := r.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("trigger", string(report.Trigger)),
		zap.String("trace_id", observability.TraceIDFromContext(ctx)),
	)

	records, err := r.fetcher.FetchAll(ctx)
	if err != nil {
		logger.Error("catalog fetch failed, reindex aborted", zap.Error(err))
		return fmt.Errorf("fetching catalog: %w", err)
	}
	report.Fetched = len(records)
	if len(records) == 0 {
		logger.Info("catalog returned no records, nothing to index")
		return nil
	}

	docs, skipped := catalog.MapAll(records)
	report.Mapped = len(docs)
	report.Skipped = skipped
	if skipped > 0 {
		logger.Warn("catalog records without id skipped", zap.Int("skipped", skipped))
	}
	if len(docs) == 0 {
		logger.Warn("no catalog record had an id, nothing to index", zap.Int("fetched", len(records)))
		return nil
	}

	result, err := r.writer.BulkIndex(ctx, docs)
	if err != nil {
		logger.Error("bulk write failed, reindex reports zero", zap.Error(err))
		return fmt.Errorf("writing bulk: %w", err)
	}

	report.Processed = len(records)
	report.Acknowledged = result.Succeeded
	report.Failed = len(result.ItemFailures)

	span.SetAttributes(
		attribute.Int("reindex.fetched", report.Fetched),
		attribute.Int("reindex.acknowledged", report.Acknowledged),
	)
	logger.Info("reindex pass completed",
		zap.Int("fetched", report.Fetched),
		zap.Int("mapped", report.Mapped),
		zap.Int("skipped", report.Skipped),
		zap.Int("acknowledged", report.Acknowledged),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func (r *Reindexer) record(report Report, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case report.Processed == 0:
		status = "empty"
	}
	observability.ReindexRunsTotal.WithLabelValues(string(report.Trigger), status).Inc()
	observability.ReindexDuration.Observe(report.Duration.Seconds())
	observability.ReindexDocumentsTotal.WithLabelValues("fetched").Add(float64(report.Fetched))
	observability.ReindexDocumentsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	observability.ReindexDocumentsTotal.WithLabelValues("acknowledged").Add(float64(report.Acknowledged))
	observability.ReindexDocumentsTotal.WithLabelValues("failed").Add(float64(report.Failed))
	if status == "success" {
		observability.LastReindexTimestamp.SetToCurrentTime()
	}
}

func (r *Reindexer) notify(report Report, runErr error) {
	if len(r.observers) == 0 {
		return
	}

	event := &models.ReindexEvent{
		RunID:      report.RunID,
		Trigger:    string(report.Trigger),
		Fetched:    report.Fetched,
		Mapped:     report.Mapped,
		Skipped:    report.Skipped,
		Processed:  report.Processed,
		Failed:     report.Failed,
		Status:     "success",
		StartedAt:  report.StartedAt,
		DurationMs: report.Duration.Milliseconds(),
	}
	if runErr != nil {
		event.Status = "error"
		event.Error = runErr.Error()
	}

	for _, o := range r.observers {
		r.wg.Add(1)
		go func(o RunObserver) {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.ReindexFinished(ctx, event); err != nil {
				r.logger.Warn("reindex observer failed",
					zap.String("run_id", event.RunID),
					zap.Error(err),
				)
			}
		}(o)
	}
}

// Wait blocks until pending observer notifications are delivered.
func (r *Reindexer) Wait() {
	r.wg.Wait()
}
