package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/elasticsearch"
	"github.com/shubhsaxena/catalog-search/internal/indexing"
	"github.com/shubhsaxena/catalog-search/internal/models"
)

// statusClientClosedRequest is the non-standard 499 used when the caller went
// away before an answer was ready.
const statusClientClosedRequest = 499

// QueryService is satisfied by *gateway.Gateway.
type QueryService interface {
	Search(ctx context.Context, text string, size int) (*models.SearchResponse, error)
	Suggest(ctx context.Context, prefix string) (*models.SearchResponse, error)
	Facets(ctx context.Context) (*models.FacetsResponse, error)
}

// ReindexService is satisfied by *indexing.Scheduler.
type ReindexService interface {
	Trigger(ctx context.Context, trigger indexing.Trigger) (indexing.Report, error)
}

// RunHistory is satisfied by the ClickHouse analytics client.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]models.ReindexEvent, error)
}

const (
	maxRecentRuns     = 100
	defaultRecentRuns = 20
)

type Handler struct {
	queries QueryService
	reindex ReindexService
	history RunHistory
	logger  *zap.Logger

	reindexWriteTimeout time.Duration
}

type HandlerOption func(*Handler)

// WithRunHistory enables GET /reindex/runs.
func WithRunHistory(history RunHistory) HandlerOption {
	return func(h *Handler) {
		h.history = history
	}
}

// WithReindexWriteTimeout moves the write deadline of a manual reindex
// response to d after the request starts, since the pass runs inline and can
// outlast the server-wide write timeout.
func WithReindexWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.reindexWriteTimeout = d
	}
}

func NewHandler(queries QueryService, reindex ReindexService, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		queries: queries,
		reindex: reindex,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}

	resp, err := h.queries.Search(ctx, q, parseSize(r))
	if err != nil {
		h.writeQueryError(w, r, models.OpSearch, err)
		return
	}
	resp.Metadata.RequestID = RequestIDFromContext(ctx)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query().Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}

	resp, err := h.queries.Suggest(ctx, q)
	if err != nil {
		h.writeQueryError(w, r, models.OpSuggest, err)
		return
	}
	resp.Metadata.RequestID = RequestIDFromContext(ctx)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.queries.Facets(ctx)
	if err != nil {
		h.writeQueryError(w, r, models.OpFacets, err)
		return
	}
	resp.Metadata.RequestID = RequestIDFromContext(ctx)
	h.writeJSON(w, http.StatusOK, resp)
}

type reindexResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	Processed    int    `json:"processed"`
	Acknowledged int    `json:"acknowledged"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	DurationMs   int64  `json:"duration_ms"`
}

// IndexFromCatalog runs a manual reindex pass and reports how many catalog
// records it processed. A pass that indexed nothing is a failure.
func (h *Handler) IndexFromCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reindexWriteTimeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(h.reindexWriteTimeout)); err != nil {
			h.logger.Debug("write deadline not extended", zap.Error(err))
		}
	}
	report, err := h.reindex.Trigger(ctx, indexing.TriggerManual)

	resp := reindexResponse{
		RunID:        report.RunID,
		Processed:    report.Processed,
		Acknowledged: report.Acknowledged,
		Failed:       report.Failed,
		Skipped:      report.Skipped,
		DurationMs:   report.Duration.Milliseconds(),
	}

	switch {
	case errors.Is(err, indexing.ErrReindexInProgress):
		resp.Status = "in_progress"
		resp.Message = "A reindex pass is already running"
		h.writeJSON(w, http.StatusConflict, resp)
	case err != nil || report.Processed == 0:
		h.logger.Error("manual reindex indexed nothing",
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.String("run_id", report.RunID),
			zap.Error(err),
		)
		resp.Status = "error"
		resp.Message = "No products were indexed"
		h.writeJSON(w, http.StatusInternalServerError, resp)
	default:
		resp.Status = "ok"
		resp.Message = "Indexed " + strconv.Itoa(report.Processed) + " products"
		h.writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusNotFound, "not_enabled", "Reindex history is not enabled")
		return
	}

	limit := defaultRecentRuns
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxRecentRuns)
	}

	runs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("loading reindex history", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "history_unavailable", "Reindex history temporarily unavailable")
		return
	}
	if runs == nil {
		runs = []models.ReindexEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// parseSize returns 0 for a missing or malformed size so the gateway
// applies its default.
func parseSize(r *http.Request) int {
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		return 0
	}
	return size
}

type engineErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Operation string `json:"operation"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, op models.Operation, err error) {
	requestID := RequestIDFromContext(r.Context())

	var engErr *elasticsearch.EngineError
	switch {
	case errors.As(err, &engErr):
		h.logger.Warn("engine rejected query",
			zap.String("request_id", requestID),
			zap.String("operation", op.String()),
			zap.Int("status", engErr.Status),
			zap.String("body", engErr.Body),
		)
		h.writeJSON(w, engErr.Status, engineErrorBody{
			Error:     "Search engine rejected the request",
			Code:      "engine_error",
			Operation: op.String(),
			Status:    engErr.Status,
			Detail:    engErr.Body,
		})
	case errors.Is(err, elasticsearch.ErrEngineUnavailable):
		h.logger.Error("engine unavailable",
			zap.String("request_id", requestID),
			zap.String("operation", op.String()),
			zap.Error(err),
		)
		h.writeJSON(w, http.StatusBadGateway, engineErrorBody{
			Error:     "Search service temporarily unavailable",
			Code:      "upstream_unavailable",
			Operation: op.String(),
			Status:    http.StatusBadGateway,
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("query timed out",
			zap.String("request_id", requestID),
			zap.String("operation", op.String()),
			zap.Error(err),
		)
		h.writeError(w, http.StatusGatewayTimeout, "timeout", "Search request timed out")
	case errors.Is(err, context.Canceled), errors.Is(err, elasticsearch.ErrRequestCancelled):
		h.logger.Debug("query cancelled by client",
			zap.String("request_id", requestID),
			zap.String("operation", op.String()),
		)
		h.writeError(w, statusClientClosedRequest, "request_cancelled", "Request cancelled")
	default:
		h.logger.Error("query failed",
			zap.String("request_id", requestID),
			zap.String("operation", op.String()),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Unexpected error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
