package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/elasticsearch"
	"github.com/shubhsaxena/catalog-search/internal/indexing"
	"github.com/shubhsaxena/catalog-search/internal/models"
)

type fakeQueries struct {
	err       error
	lastText  string
	lastSize  int
	searchHit []models.Hit
}

func (f *fakeQueries) Search(ctx context.Context, text string, size int) (*models.SearchResponse, error) {
	f.lastText, f.lastSize = text, size
	if f.err != nil {
		return nil, f.err
	}
	return &models.SearchResponse{Query: text, Total: int64(len(f.searchHit)), Hits: f.searchHit, Items: []models.Item{}}, nil
}

func (f *fakeQueries) Suggest(ctx context.Context, prefix string) (*models.SearchResponse, error) {
	f.lastText = prefix
	if f.err != nil {
		return nil, f.err
	}
	return &models.SearchResponse{Query: prefix, Hits: []models.Hit{}, Items: []models.Item{}}, nil
}

func (f *fakeQueries) Facets(ctx context.Context) (*models.FacetsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.FacetsResponse{
		Categories:    []models.Facet{{Value: "Suplementos", Count: 2}},
		Subcategories: []models.Facet{},
	}, nil
}

type fakeReindex struct {
	report indexing.Report
	err    error
	calls  []indexing.Trigger
}

func (f *fakeReindex) Trigger(ctx context.Context, trigger indexing.Trigger) (indexing.Report, error) {
	f.calls = append(f.calls, trigger)
	return f.report, f.err
}

type fakeHistory struct {
	runs      []models.ReindexEvent
	err       error
	lastLimit int
}

func (f *fakeHistory) RecentRuns(ctx context.Context, limit int) ([]models.ReindexEvent, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func newTestHandler(q *fakeQueries, re *fakeReindex, opts ...HandlerOption) *Handler {
	if q == nil {
		q = &fakeQueries{}
	}
	if re == nil {
		re = &fakeReindex{}
	}
	return NewHandler(q, re, zap.NewNop(), opts...)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestSearch_MissingQuery(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodGet, "/search", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "missing_query" {
		t.Errorf("expected code missing_query, got %v", body["code"])
	}
}

func TestSearch_PassesQueryAndSize(t *testing.T) {
	q := &fakeQueries{searchHit: []models.Hit{{ID: "1"}}}
	h := newTestHandler(q, nil)

	rr := httptest.NewRecorder()
	h.Search(rr, httptest.NewRequest(http.MethodGet, "/search?q=Proteina&size=5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if q.lastText != "Proteina" || q.lastSize != 5 {
		t.Errorf("unexpected gateway call: text=%q size=%d", q.lastText, q.lastSize)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].ID != "1" {
		t.Errorf("unexpected hits: %+v", resp.Hits)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"/search?q=x", 0},
		{"/search?q=x&size=abc", 0},
		{"/search?q=x&size=15", 15},
		{"/search?q=x&size=-3", -3},
	}
	for _, tt := range tests {
		if got := parseSize(httptest.NewRequest(http.MethodGet, tt.url, nil)); got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestSuggest_MissingQuery(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := httptest.NewRecorder()
	h.Suggest(rr, httptest.NewRequest(http.MethodGet, "/suggest", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestSuggest_OK(t *testing.T) {
	q := &fakeQueries{}
	h := newTestHandler(q, nil)

	rr := httptest.NewRecorder()
	h.Suggest(rr, httptest.NewRequest(http.MethodGet, "/suggest?q=pro", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if q.lastText != "pro" {
		t.Errorf("expected prefix 'pro', got %q", q.lastText)
	}
}

func TestFacets_OK(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := httptest.NewRecorder()
	h.Facets(rr, httptest.NewRequest(http.MethodGet, "/facets", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp models.FacetsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Categories) != 1 || resp.Categories[0].Count != 2 {
		t.Errorf("unexpected categories: %+v", resp.Categories)
	}
}

func TestQueryErrors_MappedConsistently(t *testing.T) {
	unavailable := fmt.Errorf("search: %w", elasticsearch.ErrEngineUnavailable)
	rejected := &elasticsearch.EngineError{Op: models.OpSearch, Status: http.StatusBadRequest, Body: `{"error":"parse"}`}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unavailable", unavailable, http.StatusBadGateway, "upstream_unavailable"},
		{"engine 4xx", rejected, http.StatusBadRequest, "engine_error"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"client gone", context.Canceled, statusClientClosedRequest, "request_cancelled"},
		{"engine call cancelled", fmt.Errorf("search: %w: %w", elasticsearch.ErrRequestCancelled, context.Canceled), statusClientClosedRequest, "request_cancelled"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}

	endpoints := []struct {
		name string
		url  string
		call func(h *Handler) http.HandlerFunc
	}{
		{"search", "/search?q=x", func(h *Handler) http.HandlerFunc { return h.Search }},
		{"suggest", "/suggest?q=xyz", func(h *Handler) http.HandlerFunc { return h.Suggest }},
		{"facets", "/facets", func(h *Handler) http.HandlerFunc { return h.Facets }},
	}

	for _, tt := range tests {
		for _, ep := range endpoints {
			t.Run(tt.name+"/"+ep.name, func(t *testing.T) {
				h := newTestHandler(&fakeQueries{err: tt.err}, nil)
				rr := httptest.NewRecorder()
				ep.call(h)(rr, httptest.NewRequest(http.MethodGet, ep.url, nil))

				if rr.Code != tt.wantStatus {
					t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
				}
				body := decodeBody(t, rr)
				if body["code"] != tt.wantCode {
					t.Errorf("expected code %q, got %v", tt.wantCode, body["code"])
				}
				if body["error"] == "" || body["error"] == nil {
					t.Error("expected an error message")
				}
			})
		}
	}
}

func TestQueryErrors_EngineErrorCarriesOperation(t *testing.T) {
	err := &elasticsearch.EngineError{Op: models.OpSuggest, Status: http.StatusNotFound, Body: "index_not_found_exception"}
	h := newTestHandler(&fakeQueries{err: err}, nil)

	rr := httptest.NewRecorder()
	h.Suggest(rr, httptest.NewRequest(http.MethodGet, "/suggest?q=pro", nil))

	body := decodeBody(t, rr)
	if body["operation"] != "suggest" {
		t.Errorf("expected operation 'suggest', got %v", body["operation"])
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Errorf("expected status 404 in body, got %v", body["status"])
	}
}

func TestIndexFromCatalog(t *testing.T) {
	tests := []struct {
		name       string
		report     indexing.Report
		err        error
		wantStatus int
		wantState  string
	}{
		{"processed", indexing.Report{RunID: "r1", Processed: 3, Acknowledged: 3, Duration: time.Second}, nil, http.StatusOK, "ok"},
		{"in progress", indexing.Report{}, indexing.ErrReindexInProgress, http.StatusConflict, "in_progress"},
		{"catalog down", indexing.Report{RunID: "r2"}, errors.New("fetching catalog: unreachable"), http.StatusInternalServerError, "error"},
		{"nothing indexed", indexing.Report{RunID: "r3"}, nil, http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := &fakeReindex{report: tt.report, err: tt.err}
			h := newTestHandler(nil, re)

			rr := httptest.NewRecorder()
			h.IndexFromCatalog(rr, httptest.NewRequest(http.MethodPost, "/index-from-operador", nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["status"] != tt.wantState {
				t.Errorf("expected status %q, got %v", tt.wantState, body["status"])
			}
			if body["processed"] != float64(tt.report.Processed) {
				t.Errorf("expected processed %d, got %v", tt.report.Processed, body["processed"])
			}
			if len(re.calls) != 1 || re.calls[0] != indexing.TriggerManual {
				t.Errorf("expected one manual trigger, got %v", re.calls)
			}
		})
	}
}

type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadline time.Time
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.deadline = t
	return nil
}

func TestIndexFromCatalog_ExtendsWriteDeadline(t *testing.T) {
	re := &fakeReindex{report: indexing.Report{RunID: "r1", Processed: 1}}
	h := newTestHandler(nil, re, WithReindexWriteTimeout(time.Minute))

	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	start := time.Now()
	h.IndexFromCatalog(rec, httptest.NewRequest(http.MethodPost, "/index-from-operador", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.deadline.Before(start.Add(time.Minute)) || rec.deadline.After(time.Now().Add(time.Minute)) {
		t.Errorf("expected deadline about a minute out, got %v", rec.deadline.Sub(start))
	}
}

func TestIndexFromCatalog_UnsupportedWriterStillAnswers(t *testing.T) {
	re := &fakeReindex{report: indexing.Report{RunID: "r1", Processed: 1}}
	h := newTestHandler(nil, re, WithReindexWriteTimeout(time.Minute))

	rr := httptest.NewRecorder()
	h.IndexFromCatalog(rr, httptest.NewRequest(http.MethodPost, "/index-from-operador", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRecentRuns_Disabled(t *testing.T) {
	h := newTestHandler(nil, nil)

	rr := httptest.NewRecorder()
	h.RecentRuns(rr, httptest.NewRequest(http.MethodGet, "/reindex/runs", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestRecentRuns_ClampsLimit(t *testing.T) {
	history := &fakeHistory{runs: []models.ReindexEvent{{RunID: "r1", Status: "success"}}}
	h := newTestHandler(nil, nil, WithRunHistory(history))

	rr := httptest.NewRecorder()
	h.RecentRuns(rr, httptest.NewRequest(http.MethodGet, "/reindex/runs?limit=5000", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if history.lastLimit != maxRecentRuns {
		t.Errorf("expected limit %d, got %d", maxRecentRuns, history.lastLimit)
	}
	runs := decodeBody(t, rr)["runs"].([]any)
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestRecentRuns_HistoryError(t *testing.T) {
	h := newTestHandler(nil, nil, WithRunHistory(&fakeHistory{err: errors.New("clickhouse down")}))

	rr := httptest.NewRecorder()
	h.RecentRuns(rr, httptest.NewRequest(http.MethodGet, "/reindex/runs", nil))

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
}

func TestRouter_Routes(t *testing.T) {
	h := newTestHandler(&fakeQueries{}, &fakeReindex{report: indexing.Report{Processed: 1}})
	health := NewHealthHandler(zap.NewNop())
	router := NewRouter(h, health, config.DefaultConfig().Server, zap.NewNop())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/search?q=x", http.StatusOK},
		{http.MethodGet, "/suggest?q=xy", http.StatusOK},
		{http.MethodGet, "/facets", http.StatusOK},
		{http.MethodPost, "/index-from-operador", http.StatusOK},
		{http.MethodGet, "/index-from-operador", http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		if rr.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s %s: expected X-Request-ID header", tt.method, tt.path)
		}
	}
}

func TestRouter_ThrottlesManualReindex(t *testing.T) {
	h := newTestHandler(nil, &fakeReindex{report: indexing.Report{Processed: 1}})
	cfg := config.DefaultConfig().Server
	cfg.ReindexPerMinute = 1
	router := NewRouter(h, NewHealthHandler(zap.NewNop()), cfg, zap.NewNop())

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/index-from-operador", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/index-from-operador", nil))

	if first.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", second.Code)
	}
}
