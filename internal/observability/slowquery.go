package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/models"
)

type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept records an engine query that exceeded the warning threshold.
// Faster queries return immediately.
func (sqd *SlowQueryDetector) Intercept(ctx context.Context, query string, op models.Operation, duration time.Duration, totalHits int64, shardsHit int, timedOut bool) {
	if duration <= sqd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sqd.classifySeverity(duration)
	queryHash := hashQueryForLog(query)

	SlowQueryCounter.WithLabelValues(severity, op.String()).Inc()

	sqd.logger.Warn("slow query detected",
		zap.String("trace_id", traceID),
		zap.String("query_hash", queryHash),
		zap.String("operation", op.String()),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int64("total_hits", totalHits),
		zap.Int("shards_hit", shardsHit),
		zap.Bool("timed_out", timedOut),
		zap.String("severity", severity),
	)

	if sqd.analyticsWriter == nil {
		return
	}

	event := &models.AnalyticsEvent{
		EventType:  "query_performance",
		QueryHash:  queryHash,
		QueryType:  op.String(),
		DurationMs: float64(duration.Milliseconds()),
		TotalHits:  totalHits,
		ShardsHit:  shardsHit,
		TimedOut:   timedOut,
		Timestamp:  time.Now().UTC(),
		TraceID:    traceID,
		Source:     "elasticsearch",
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sqd.analyticsWriter.WriteQueryPerformance(writeCtx, event); err != nil {
			sqd.logger.Error("failed to write query analytics",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
	}()
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	if d > sqd.warningThreshold {
		return "warning"
	}
	return "normal"
}

// hashQueryForLog keeps raw user queries out of logs and analytics rows.
func hashQueryForLog(q string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(q))
}
