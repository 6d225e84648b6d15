package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/cache"
	"github.com/shubhsaxena/catalog-search/internal/catalog"
	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/elasticsearch"
	"github.com/shubhsaxena/catalog-search/internal/elasticsearch/estest"
	"github.com/shubhsaxena/catalog-search/internal/indexing"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

const catalogJSON = `[
	{"id":"1","nombre":"Proteina Whey","descripcion":"Suplemento","categoria":"Suplementos","subcategoria":"Proteinas","precio":"19.99"},
	{"id":"2","nombre":"Creatina","descripcion":"Monohidrato","categoria":"Suplementos","subcategoria":"Creatinas","precio":12},
	{"id":"3","nombre":"Mancuernas","descripcion":"Par de 5kg","categoria":"Equipamiento","precio":null}
]`

type env struct {
	es      *estest.Server
	client  *elasticsearch.Client
	gateway *Gateway
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	srv := estest.NewServer()
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Elasticsearch.Addresses = []string{srv.URL}
	cfg.Elasticsearch.RequestTimeout = time.Second
	cfg.Search.Retry.InitialWait = time.Millisecond
	cfg.Search.Retry.MaxWait = 2 * time.Millisecond
	cfg.Search.CircuitBreaker.FailureThreshold = 100
	if mutate != nil {
		mutate(cfg)
	}

	client, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, zap.NewNop())
	require.NoError(t, err)

	slow := observability.NewSlowQueryDetector(cfg.Search.SlowQuery.WarningThreshold, cfg.Search.SlowQuery.CriticalThreshold, zap.NewNop(), nil)
	gw := New(client, cache.NewResponseCache(cfg.Cache), slow, cfg.Search, zap.NewNop())
	return &env{es: srv, client: client, gateway: gw}
}

func (e *env) seed(t *testing.T) {
	t.Helper()
	catalogSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(catalogJSON))
	}))
	defer catalogSrv.Close()

	fetcher := catalog.NewHTTPFetcher(config.CatalogConfig{URL: catalogSrv.URL, Timeout: time.Second}, zap.NewNop())
	r := indexing.NewReindexer(fetcher, e.client, zap.NewNop())
	report, err := r.ReindexAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Processed)
}

func TestSearch_FindsReindexedProduct(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	resp, err := e.gateway.Search(context.Background(), "Proteina", 0)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, "1", resp.Hits[0].ID)
	require.Len(t, resp.Items, len(resp.Hits))
	assert.Equal(t, "Proteina Whey", resp.Items[0].Name)
	assert.Equal(t, "Suplementos", resp.Items[0].Category)
	assert.Equal(t, "proteina", resp.Query)
	assert.False(t, resp.Metadata.CacheHit)
	assert.False(t, resp.Metadata.Degraded)
}

func TestSearch_ClampsSize(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.gateway.Search(context.Background(), "x", 5000)
	require.NoError(t, err)
	assert.Equal(t, float64(100), e.es.LastQuery()["size"])

	_, err = e.gateway.Search(context.Background(), "y", -1)
	require.NoError(t, err)
	assert.Equal(t, float64(20), e.es.LastQuery()["size"])
}

func TestSearch_CacheHitSkipsEngine(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)
	ctx := context.Background()

	first, err := e.gateway.Search(ctx, "creatina", 10)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := e.gateway.Search(ctx, "  CREATINA ", 10)
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, int64(1), e.es.Searches())

	_, err = e.gateway.Search(ctx, "creatina", 11)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.es.Searches(), "different size is a different key")
}

func TestSearch_ConcurrentMissesShareOneCall(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.gateway.Search(context.Background(), "mancuernas", 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, e.es.Searches(), int64(20))
	assert.GreaterOrEqual(t, e.es.Searches(), int64(1))
}

func TestSearch_LeaderCancelDoesNotFailWaiters(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)
	e.es.DelaySearch(200 * time.Millisecond)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.gateway.Search(leaderCtx, "proteina", 10)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return e.es.Searches() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		resp *models.SearchResponse
		err  error
	}
	waiter := make(chan result, 1)
	go func() {
		resp, err := e.gateway.Search(context.Background(), "proteina", 10)
		waiter <- result{resp, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	got := <-waiter
	require.NoError(t, got.err)
	require.NotEmpty(t, got.resp.Hits)
	assert.Equal(t, "1", got.resp.Hits[0].ID)
	assert.Equal(t, int64(1), e.es.Searches())
}

func TestSearch_CallerGivesUpButResultIsCached(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)
	e.es.DelaySearch(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.gateway.Search(ctx, "creatina", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, elasticsearch.ErrEngineUnavailable)
	assert.Less(t, time.Since(start), 90*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := e.gateway.Search(context.Background(), "creatina", 10)
		return err == nil && resp.Metadata.CacheHit
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), e.es.Searches())
}

func TestSearch_QueryTimeoutIsUnavailable(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Search.QueryTimeout = 30 * time.Millisecond
	})
	e.es.DelaySearch(300 * time.Millisecond)

	_, err := e.gateway.Search(context.Background(), "x", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, elasticsearch.ErrEngineUnavailable)
}

func TestSuggest_ShortPrefixSkipsEngine(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := e.gateway.Suggest(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.NotNil(t, resp.Hits)
	assert.Equal(t, int64(0), e.es.Searches())

	resp, err = e.gateway.Suggest(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Equal(t, int64(0), e.es.Searches())
}

func TestSuggest_MatchesNamePrefix(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	resp, err := e.gateway.Suggest(context.Background(), "cre")
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "2", resp.Hits[0].ID)
	assert.Equal(t, float64(5), e.es.LastQuery()["size"])
}

func TestFacets(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	resp, err := e.gateway.Facets(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Categories, 2)
	assert.Equal(t, models.Facet{Value: "Suplementos", Count: 2}, resp.Categories[0])
	assert.Equal(t, models.Facet{Value: "Equipamiento", Count: 1}, resp.Categories[1])
	assert.Len(t, resp.Subcategories, 2)

	again, err := e.gateway.Facets(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Metadata.CacheHit)
	assert.Equal(t, int64(1), e.es.Searches())
}

func TestUnavailable_FailLoud(t *testing.T) {
	e := newEnv(t, nil)
	e.es.FailSearchWith(http.StatusServiceUnavailable)
	ctx := context.Background()

	_, err := e.gateway.Search(ctx, "whey", 10)
	assert.ErrorIs(t, err, elasticsearch.ErrEngineUnavailable)

	_, err = e.gateway.Suggest(ctx, "whey")
	assert.ErrorIs(t, err, elasticsearch.ErrEngineUnavailable)

	_, err = e.gateway.Facets(ctx)
	assert.ErrorIs(t, err, elasticsearch.ErrEngineUnavailable)
}

func TestUnavailable_FailSoft(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Search.UnavailablePolicy = config.PolicyFailSoft
	})
	e.es.FailSearchWith(http.StatusServiceUnavailable)
	ctx := context.Background()

	resp, err := e.gateway.Search(ctx, "whey", 10)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Degraded)
	assert.Empty(t, resp.Hits)

	sugg, err := e.gateway.Suggest(ctx, "whey")
	require.NoError(t, err)
	assert.True(t, sugg.Metadata.Degraded)

	facets, err := e.gateway.Facets(ctx)
	require.NoError(t, err)
	assert.True(t, facets.Metadata.Degraded)
	assert.Empty(t, facets.Categories)

	searches := e.es.Searches()
	e.es.FailSearchWith(0)
	fresh, err := e.gateway.Search(ctx, "whey", 10)
	require.NoError(t, err)
	assert.False(t, fresh.Metadata.Degraded, "degraded responses are not cached")
	assert.Greater(t, e.es.Searches(), searches)
}

func TestClientErrorSurfacesEngineError(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Search.UnavailablePolicy = config.PolicyFailSoft
	})
	e.es.FailSearchWith(http.StatusBadRequest)

	_, err := e.gateway.Search(context.Background(), "whey", 10)
	var engErr *elasticsearch.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, http.StatusBadRequest, engErr.Status)
	assert.Equal(t, models.OpSearch, engErr.Op)
}
