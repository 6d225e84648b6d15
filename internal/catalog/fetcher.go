package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

var ErrSourceUnavailable = errors.New("catalog source unavailable")

type FailureKind string

const (
	KindUnreachable FailureKind = "unreachable"
	KindBadStatus   FailureKind = "bad_status"
	KindTimeout     FailureKind = "timeout"
	KindDecode      FailureKind = "decode"
)

// FetchError describes why a catalog fetch failed. It matches
// ErrSourceUnavailable with errors.Is.
type FetchError struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == KindBadStatus {
		return fmt.Sprintf("catalog fetch: %s %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("catalog fetch: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

const maxErrorBody = 512

// HTTPFetcher reads the full catalog snapshot with one bounded GET. It does
// not retry; the next scheduled pass does.
type HTTPFetcher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPFetcher(cfg config.CatalogConfig, logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (f *HTTPFetcher) FetchAll(ctx context.Context) ([]models.CatalogRecord, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.FetchAll",
		attribute.String("catalog.url", f.url),
	)
	defer span.End()

	start := time.Now()
	records, err := f.fetch(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.CatalogFetchDuration.WithLabelValues(status).Observe(duration.Seconds())
	span.SetAttributes(attribute.Int("catalog.records", len(records)))

	f.logger.Debug("catalog fetch finished",
		zap.String("status", status),
		zap.Int("records", len(records)),
		zap.Duration("duration", duration),
	)
	return records, err
}

func (f *HTTPFetcher) fetch(ctx context.Context) ([]models.CatalogRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &FetchError{
			Kind:   KindBadStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var records []models.CatalogRecord
	if err := dec.Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return []models.CatalogRecord{}, nil
		}
		return nil, &FetchError{Kind: classifyDecode(err), Err: err}
	}
	if records == nil {
		records = []models.CatalogRecord{}
	}
	return records, nil
}

func classifyTransport(err error) FailureKind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnreachable
}

// A body read can also hit the client timeout mid-stream.
func classifyDecode(err error) FailureKind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindDecode
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
