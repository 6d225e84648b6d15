package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

// Client is the analytics sink. It records slow queries from the gateway
// and one row per reindex pass.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	start := time.Now()
	err := c.conn.Exec(ctx, insertQueryPerformance,
		event.EventType,
		event.QueryHash,
		event.QueryType,
		event.DurationMs,
		event.TotalHits,
		int32(event.ShardsHit),
		event.TimedOut,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
	observeExec("query_performance", start, err)
	if err != nil {
		return fmt.Errorf("inserting query performance: %w", err)
	}
	return nil
}

// ReindexFinished implements indexing.RunObserver.
func (c *Client) ReindexFinished(ctx context.Context, event *models.ReindexEvent) error {
	ctx, span := observability.StartSpan(ctx, "ch.reindex_run",
		attribute.String("run_id", event.RunID),
	)
	defer span.End()

	start := time.Now()
	err := c.conn.Exec(ctx, insertReindexRun, reindexRunArgs(event)...)
	observeExec("reindex_run", start, err)
	if err != nil {
		return fmt.Errorf("inserting reindex run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest reindex passes, newest first.
func (c *Client) RecentRuns(ctx context.Context, limit int) ([]models.ReindexEvent, error) {
	ctx, span := observability.StartSpan(ctx, "ch.recent_runs")
	defer span.End()

	start := time.Now()
	rows, err := c.conn.Query(ctx, selectRecentRuns, uint64(limit))
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("recent_runs", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("querying reindex runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ReindexEvent
	for rows.Next() {
		var (
			r                                           models.ReindexEvent
			fetched, mapped, skipped, processed, failed uint32
		)
		if err := rows.Scan(&r.RunID, &r.Trigger, &fetched, &mapped, &skipped, &processed, &failed,
			&r.Status, &r.Error, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning reindex run: %w", err)
		}
		r.Fetched, r.Mapped, r.Skipped = int(fetched), int(mapped), int(skipped)
		r.Processed, r.Failed = int(processed), int(failed)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reindex runs: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("recent_runs", "success").Observe(time.Since(start).Seconds())
	return runs, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	for _, ddl := range tableDDL {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}

func observeExec(queryType string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CHQueryDuration.WithLabelValues(queryType, status).Observe(time.Since(start).Seconds())
}

func reindexRunArgs(event *models.ReindexEvent) []any {
	return []any{
		event.RunID,
		event.Trigger,
		uint32(event.Fetched),
		uint32(event.Mapped),
		uint32(event.Skipped),
		uint32(event.Processed),
		uint32(event.Failed),
		event.Status,
		event.Error,
		event.StartedAt,
		event.DurationMs,
	}
}
