package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
	"github.com/shubhsaxena/catalog-search/internal/resilience"
)

const maxErrorBody = 4096

type Client struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

// NewClient does not contact the cluster; readiness and EnsureIndex do.
func NewClient(cfg config.ElasticsearchConfig, searchCfg config.SearchConfig, logger *zap.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:    cfg.Addresses,
		APIKey:       cfg.APIKey,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.MaxRetries == 0,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	cb := resilience.NewCircuitBreaker("elasticsearch-query", searchCfg.CircuitBreaker, logger)

	return &Client{
		es:       es,
		cb:       cb,
		cfg:      cfg,
		retryCfg: resilience.RetryConfigFrom(searchCfg.Retry),
		logger:   logger,
	}, nil
}

func (c *Client) Index() string {
	return c.cfg.Index
}

type SearchResult struct {
	Hits         []models.Hit
	Total        int64
	TookMs       int64
	ShardsHit    int
	TimedOut     bool
	Aggregations map[string]json.RawMessage
}

// searchOutcome lets a 4xx answer, or a caller that gave up mid-request,
// pass through the breaker as a success so neither opens the circuit.
type searchOutcome struct {
	result    *SearchResult
	clientErr *EngineError
	ctxErr    error
}

// Search runs query against the configured index. It returns *EngineError for
// 4xx answers, an error wrapping ErrRequestCancelled when ctx ends first, and
// an error wrapping ErrEngineUnavailable for everything else.
func (c *Client) Search(ctx context.Context, op models.Operation, query map[string]any) (*SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "es.search",
		attribute.String("es.index", c.cfg.Index),
		attribute.String("es.operation", op.String()),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		observability.ESRequestDuration.WithLabelValues(op.String(), "cancelled").Observe(0)
		return nil, cancelled(op, err)
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s query: %w", op, err)
	}

	start := time.Now()
	cbResult, err := c.cb.Execute(func() (any, error) {
		var out searchOutcome
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			res, clientErr, execErr := c.executeSearch(ctx, op, body)
			if execErr != nil {
				return execErr
			}
			out = searchOutcome{result: res, clientErr: clientErr}
			return nil
		})
		if retryErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return searchOutcome{ctxErr: ctxErr}, nil
			}
			return nil, retryErr
		}
		return out, nil
	})
	duration := time.Since(start)

	if err != nil {
		observability.ESRequestDuration.WithLabelValues(op.String(), "unavailable").Observe(duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if resilience.IsOpen(err) {
			return nil, unavailable(op, err)
		}
		if errors.Is(err, ErrEngineUnavailable) {
			return nil, err
		}
		return nil, unavailable(op, err)
	}

	out := cbResult.(searchOutcome)
	if out.ctxErr != nil {
		observability.ESRequestDuration.WithLabelValues(op.String(), "cancelled").Observe(duration.Seconds())
		span.SetStatus(codes.Error, out.ctxErr.Error())
		return nil, cancelled(op, out.ctxErr)
	}
	if out.clientErr != nil {
		observability.ESRequestDuration.WithLabelValues(op.String(), strconv.Itoa(out.clientErr.Status)).Observe(duration.Seconds())
		span.SetStatus(codes.Error, out.clientErr.Error())
		return nil, out.clientErr
	}

	observability.ESRequestDuration.WithLabelValues(op.String(), "success").Observe(duration.Seconds())
	span.SetAttributes(attribute.Int64("es.total_hits", out.result.Total))
	return out.result, nil
}

// executeSearch returns a non-nil error only for conditions worth retrying.
func (c *Client) executeSearch(ctx context.Context, op models.Operation, body []byte) (*SearchResult, *EngineError, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Search(
		c.es.Search.WithContext(reqCtx),
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, nil, unavailable(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, nil, unavailable(op, fmt.Errorf("status %d: %s", res.StatusCode, b))
	}
	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &EngineError{Op: op, Status: res.StatusCode, Body: string(b)}, nil
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, nil, unavailable(op, fmt.Errorf("decoding response: %w", err))
	}

	hits := make([]models.Hit, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		hits = append(hits, models.Hit{
			Index:  h.Index,
			ID:     h.ID,
			Score:  h.Score,
			Source: h.Source,
		})
	}

	return &SearchResult{
		Hits:         hits,
		Total:        esResp.Hits.Total.Value,
		TookMs:       esResp.Took,
		ShardsHit:    esResp.Shards.Total,
		TimedOut:     esResp.TimedOut,
		Aggregations: esResp.Aggregations,
	}, nil, nil
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (c *Client) EnsureIndex(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Indices.Exists(
		[]string{c.cfg.Index},
		c.es.Indices.Exists.WithContext(reqCtx),
	)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", c.cfg.Index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		c.logger.Info("elasticsearch index already exists", zap.String("index", c.cfg.Index))
		return nil
	case http.StatusNotFound:
	default:
		c.logger.Warn("unexpected status checking index",
			zap.String("index", c.cfg.Index),
			zap.Int("status", res.StatusCode),
		)
	}

	res, err = c.es.Indices.Create(
		c.cfg.Index,
		c.es.Indices.Create.WithContext(reqCtx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping(c.cfg.NumShards, c.cfg.NumReplicas))),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", c.cfg.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp esErrorResponse
		if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
			if errResp.Error.Type == "resource_already_exists_exception" {
				return nil
			}
			return fmt.Errorf("creating index %s: %s: %s", c.cfg.Index, errResp.Error.Type, errResp.Error.Reason)
		}
		return fmt.Errorf("creating index %s: unexpected status %s", c.cfg.Index, res.Status())
	}

	c.logger.Info("elasticsearch index created", zap.String("index", c.cfg.Index))
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return "red", fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "red", fmt.Errorf("es health check: status %s", res.Status())
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "red", fmt.Errorf("decoding health response: %w", err)
	}

	for _, color := range []string{"green", "yellow", "red"} {
		v := 0.0
		if color == health.Status {
			v = 1
		}
		observability.ESClusterHealth.WithLabelValues(color).Set(v)
	}
	return health.Status, nil
}

// ES response types

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Shards   struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Skipped    int `json:"skipped"`
		Failed     int `json:"failed"`
	} `json:"_shards"`
	Hits struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

type esHit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}
