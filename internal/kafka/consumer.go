package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/indexing"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

// ReindexTrigger is satisfied by *indexing.Scheduler.
type ReindexTrigger interface {
	Trigger(ctx context.Context, trigger indexing.Trigger) (indexing.Report, error)
}

// Consumer listens for catalog change events. Events carry no payload the
// index needs: every event within a debounce window collapses into one full
// reindex pass.
type Consumer struct {
	reader     *kafka.Reader
	trigger    ReindexTrigger
	debounce   *debouncer
	cfg        config.KafkaConfig
	logger     *zap.Logger
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

func NewConsumer(cfg config.KafkaConfig, trigger ReindexTrigger, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.TopicChanges,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       1e6, // 1MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	logger.Info("kafka consumer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.TopicChanges),
		zap.String("group", cfg.ConsumerGroup),
	)

	return newConsumer(reader, cfg, trigger, logger)
}

func newConsumer(reader *kafka.Reader, cfg config.KafkaConfig, trigger ReindexTrigger, logger *zap.Logger) *Consumer {
	c := &Consumer{
		reader:  reader,
		trigger: trigger,
		cfg:     cfg,
		logger:  logger,
	}
	c.debounce = newDebouncer(cfg.TriggerDebounce, c.fire)
	return c
}

func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.debounce.Run(ctx)
	}()

	c.logger.Info("kafka consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("kafka consumer shutting down")
				return
			}
			c.logger.Error("fetching kafka message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.handleMessage(msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("committing kafka message",
				zap.Error(err),
				zap.Int64("offset", msg.Offset),
			)
		}
	}
}

// handleMessage never fails: a malformed event is logged and skipped so it
// cannot block the partition.
func (c *Consumer) handleMessage(msg kafka.Message) {
	var event models.CatalogChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn("skipping malformed catalog change event",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
		)
		observability.KafkaTriggersTotal.WithLabelValues("malformed").Inc()
		return
	}

	observability.KafkaTriggersTotal.WithLabelValues("received").Inc()
	c.logger.Debug("catalog change event",
		zap.String("type", event.Type),
		zap.String("product_id", event.ProductID),
	)
	c.debounce.Notify()
}

func (c *Consumer) fire(ctx context.Context) {
	report, err := c.trigger.Trigger(ctx, indexing.TriggerCatalogChange)
	switch {
	case errors.Is(err, indexing.ErrReindexInProgress):
		observability.KafkaTriggersTotal.WithLabelValues("in_progress").Inc()
	case err != nil:
		observability.KafkaTriggersTotal.WithLabelValues("error").Inc()
		c.logger.Error("catalog change reindex failed", zap.Error(err))
	default:
		observability.KafkaTriggersTotal.WithLabelValues("triggered").Inc()
		c.logger.Info("catalog change reindex finished",
			zap.String("run_id", report.RunID),
			zap.Int("processed", report.Processed),
		)
	}
}

func (c *Consumer) HealthCheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka health check dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("kafka health check brokers: %w", err)
	}
	return nil
}

func (c *Consumer) Stop() error {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()

	if c.reader == nil {
		return nil
	}
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("closing reader: %w", err)
	}
	return nil
}
