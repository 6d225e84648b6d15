package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/models"
)

// Producer publishes a ReindexEvent after every pass. It implements
// indexing.RunObserver.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicReindexed,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.TopicReindexed))

	return &Producer{
		writer: w,
		logger: logger,
	}
}

func (p *Producer) ReindexFinished(ctx context.Context, event *models.ReindexEvent) error {
	msg, err := reindexMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing reindex event: %w", err)
	}
	return nil
}

func reindexMessage(event *models.ReindexEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling reindex event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.RunID),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "trigger", Value: []byte(event.Trigger)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
