package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shubhsaxena/catalog-search/internal/cache"
	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/elasticsearch"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

type Engine interface {
	Search(ctx context.Context, op models.Operation, query map[string]any) (*elasticsearch.SearchResult, error)
}

// Gateway answers search, suggest and facet queries through the response
// cache. Engine 4xx answers are returned as *elasticsearch.EngineError. When
// the engine is unavailable the configured policy either returns an error
// wrapping elasticsearch.ErrEngineUnavailable (fail_loud) or a degraded empty
// response (fail_soft), the same way for every operation.
type Gateway struct {
	engine    Engine
	cache     *cache.ResponseCache
	builder   *QueryBuilder
	slowQuery *observability.SlowQueryDetector
	cfg       config.SearchConfig
	logger    *zap.Logger

	flight singleflight.Group
}

func New(
	engine Engine,
	responseCache *cache.ResponseCache,
	slowQuery *observability.SlowQueryDetector,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		engine:    engine,
		cache:     responseCache,
		builder:   NewQueryBuilder(),
		slowQuery: slowQuery,
		cfg:       cfg,
		logger:    logger,
	}
}

func (g *Gateway) Search(ctx context.Context, text string, size int) (*models.SearchResponse, error) {
	text = Normalize(text)
	size = g.clampSize(size)

	ctx, span := observability.StartSpan(ctx, "gateway.search",
		attribute.Int("query.size", size),
	)
	defer span.End()

	key := cache.Key(models.OpSearch, text, strconv.Itoa(size))
	return g.hits(ctx, models.OpSearch, key, text, func() map[string]any {
		return g.builder.Search(text, size)
	})
}

// Suggest returns the top matches for a name prefix. Prefixes shorter than
// the configured minimum get an empty result without an engine call.
func (g *Gateway) Suggest(ctx context.Context, prefix string) (*models.SearchResponse, error) {
	prefix = Normalize(prefix)
	if utf8.RuneCountInString(prefix) < g.cfg.SuggestMinChars {
		observability.QueryRequestsTotal.WithLabelValues(models.OpSuggest.String(), "short_circuit").Inc()
		return &models.SearchResponse{Query: prefix, Hits: []models.Hit{}, Items: []models.Item{}}, nil
	}

	ctx, span := observability.StartSpan(ctx, "gateway.suggest")
	defer span.End()

	size := g.cfg.SuggestSize
	key := cache.Key(models.OpSuggest, prefix, strconv.Itoa(size))
	return g.hits(ctx, models.OpSuggest, key, prefix, func() map[string]any {
		return g.builder.Suggest(prefix, size)
	})
}

func (g *Gateway) Facets(ctx context.Context) (*models.FacetsResponse, error) {
	ctx, span := observability.StartSpan(ctx, "gateway.facets")
	defer span.End()

	start := time.Now()
	op := models.OpFacets
	key := cache.Key(op)

	payload, hit, err := g.load(ctx, op, key, func(ctx context.Context) (any, error) {
		res, err := g.query(ctx, op, "", g.builder.Facets())
		if err != nil {
			return nil, err
		}
		return toFacetsResponse(res)
	})
	if err != nil {
		if g.shouldDegrade(err) {
			g.degraded(op, start, err)
			return models.EmptyFacetsResponse(), nil
		}
		g.failed(op, start, err)
		return nil, err
	}

	var resp models.FacetsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding cached %s response: %w", op, err)
	}
	resp.Metadata.CacheHit = hit
	g.succeeded(op, start, hit)
	return &resp, nil
}

func (g *Gateway) hits(ctx context.Context, op models.Operation, key, text string, build func() map[string]any) (*models.SearchResponse, error) {
	start := time.Now()

	payload, hit, err := g.load(ctx, op, key, func(ctx context.Context) (any, error) {
		res, err := g.query(ctx, op, text, build())
		if err != nil {
			return nil, err
		}
		return toSearchResponse(text, res), nil
	})
	if err != nil {
		if g.shouldDegrade(err) {
			g.degraded(op, start, err)
			return models.EmptySearchResponse(text), nil
		}
		g.failed(op, start, err)
		return nil, err
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decoding cached %s response: %w", op, err)
	}
	resp.Metadata.CacheHit = hit
	g.succeeded(op, start, hit)
	return &resp, nil
}

// load returns the cached payload for key, or runs fetch once for all
// concurrent callers missing the same key and caches its JSON. The shared
// fetch is detached from any single caller; each caller still returns as soon
// as its own ctx is done.
func (g *Gateway) load(ctx context.Context, op models.Operation, key string, fetch func(context.Context) (any, error)) ([]byte, bool, error) {
	if payload, ok := g.cache.Get(key); ok {
		observability.CacheHits.WithLabelValues(op.String()).Inc()
		return payload, true, nil
	}
	observability.CacheMisses.WithLabelValues(op.String()).Inc()

	ch := g.flight.DoChan(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if g.cfg.QueryTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, g.cfg.QueryTimeout)
			defer cancel()
		}

		resp, err := fetch(fetchCtx)
		if err != nil {
			if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w: no answer within %s", op, elasticsearch.ErrEngineUnavailable, g.cfg.QueryTimeout)
			}
			return nil, err
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encoding %s response: %w", op, err)
		}
		g.cache.Put(key, payload)
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

func (g *Gateway) query(ctx context.Context, op models.Operation, text string, body map[string]any) (*elasticsearch.SearchResult, error) {
	start := time.Now()
	res, err := g.engine.Search(ctx, op, body)
	if err != nil {
		return nil, err
	}
	if g.slowQuery != nil {
		g.slowQuery.Intercept(ctx, text, op, time.Since(start), res.Total, res.ShardsHit, res.TimedOut)
	}
	return res, nil
}

func (g *Gateway) shouldDegrade(err error) bool {
	return g.cfg.UnavailablePolicy == config.PolicyFailSoft && errors.Is(err, elasticsearch.ErrEngineUnavailable)
}

func (g *Gateway) clampSize(size int) int {
	if size <= 0 {
		return g.cfg.DefaultSize
	}
	if size > g.cfg.MaxSize {
		return g.cfg.MaxSize
	}
	return size
}

func (g *Gateway) succeeded(op models.Operation, start time.Time, hit bool) {
	source := "engine"
	if hit {
		source = "cache"
	}
	observability.QueryRequestsTotal.WithLabelValues(op.String(), "success").Inc()
	observability.QueryRequestDuration.WithLabelValues(op.String(), source, "success").Observe(time.Since(start).Seconds())
}

func (g *Gateway) failed(op models.Operation, start time.Time, err error) {
	status := "unavailable"
	var engErr *elasticsearch.EngineError
	switch {
	case errors.As(err, &engErr):
		status = "client_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	}
	observability.QueryRequestsTotal.WithLabelValues(op.String(), status).Inc()
	observability.QueryRequestDuration.WithLabelValues(op.String(), "engine", status).Observe(time.Since(start).Seconds())
}

func (g *Gateway) degraded(op models.Operation, start time.Time, err error) {
	g.logger.Warn("engine unavailable, returning empty result",
		zap.String("operation", op.String()),
		zap.Error(err),
	)
	observability.DegradedResponses.WithLabelValues(op.String()).Inc()
	observability.QueryRequestsTotal.WithLabelValues(op.String(), "degraded").Inc()
	observability.QueryRequestDuration.WithLabelValues(op.String(), "engine", "degraded").Observe(time.Since(start).Seconds())
}

func toSearchResponse(text string, res *elasticsearch.SearchResult) *models.SearchResponse {
	items := make([]models.Item, 0, len(res.Hits))
	for _, h := range res.Hits {
		items = append(items, models.Item{
			ID:          h.ID,
			Name:        sourceString(h.Source, "name"),
			Description: sourceString(h.Source, "description"),
			Category:    sourceString(h.Source, "category"),
			Subcategory: sourceString(h.Source, "subcategory"),
			Image:       sourceString(h.Source, "image"),
			Score:       h.Score,
		})
	}
	hits := res.Hits
	if hits == nil {
		hits = []models.Hit{}
	}
	return &models.SearchResponse{
		Query:  text,
		Total:  res.Total,
		TookMs: res.TookMs,
		Hits:   hits,
		Items:  items,
	}
}

type termsAgg struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

func toFacetsResponse(res *elasticsearch.SearchResult) (*models.FacetsResponse, error) {
	categories, err := facetBucketsFor(res.Aggregations, categoryAgg)
	if err != nil {
		return nil, err
	}
	subcategories, err := facetBucketsFor(res.Aggregations, subcategoryAgg)
	if err != nil {
		return nil, err
	}
	return &models.FacetsResponse{
		Categories:    categories,
		Subcategories: subcategories,
	}, nil
}

func facetBucketsFor(aggs map[string]json.RawMessage, name string) ([]models.Facet, error) {
	facets := []models.Facet{}
	raw, ok := aggs[name]
	if !ok {
		return facets, nil
	}
	var agg termsAgg
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding %s aggregation: %w", name, err)
	}
	for _, b := range agg.Buckets {
		facets = append(facets, models.Facet{Value: b.Key, Count: b.DocCount})
	}
	return facets, nil
}

func sourceString(src map[string]any, key string) string {
	if v, ok := src[key].(string); ok {
		return v
	}
	return ""
}
