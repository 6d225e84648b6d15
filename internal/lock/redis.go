// Package lock holds the Redis lease that keeps reindex passes exclusive
// across replicas.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
)

// releaseScript deletes the key only while it still holds our token, so a
// lease that expired and was taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	token string
}

func NewRedisLease(cfg config.RedisConfig, logger *zap.Logger) (*RedisLease, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.Addresses,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:        cfg.Addresses[0],
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis reindex lease connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("key", cfg.LeaseKey),
	)

	return &RedisLease{
		client: client,
		key:    cfg.LeaseKey,
		ttl:    cfg.LeaseTTL,
		logger: logger,
	}, nil
}

// Acquire takes the lease for ttl. It returns false when another holder has
// it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	if !ok {
		l.logger.Debug("reindex lease held elsewhere", zap.String("key", l.key))
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.key, err)
	}
	if n == 0 {
		l.logger.Warn("reindex lease expired before release", zap.String("key", l.key))
	}
	return nil
}

func (l *RedisLease) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}
