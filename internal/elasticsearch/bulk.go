package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shubhsaxena/catalog-search/internal/models"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

const ndjsonContentType = "application/x-ndjson"

// BulkIndex upserts docs in a single _bulk request, one action line and one
// source line per document in input order. A transport or non-2xx failure
// yields a result with zero succeeded plus the error; nothing is retried.
// Per-item failures in a 2xx answer are reported in the result, not as an
// error.
func (c *Client) BulkIndex(ctx context.Context, docs []models.IndexDocument) (models.BulkResult, error) {
	result := models.BulkResult{Submitted: len(docs)}
	if len(docs) == 0 {
		return result, nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk_index",
		attribute.String("es.index", c.cfg.Index),
		attribute.Int("batch_size", len(docs)),
	)
	defer span.End()

	body, encodeFailures := encodeBulkBody(c.cfg.Index, docs)
	if len(encodeFailures) > 0 {
		c.logger.Warn("dropping documents that cannot be encoded",
			zap.Int("dropped", len(encodeFailures)),
			zap.String("first_id", encodeFailures[0].ID),
			zap.String("first_reason", encodeFailures[0].Reason),
		)
		result.Errors = true
		result.ItemFailures = encodeFailures
	}
	if len(body) == 0 {
		return result, nil
	}

	reqCtx := ctx
	if c.cfg.BulkTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.BulkTimeout)
		defer cancel()
	}

	res, err := c.es.Bulk(
		bytes.NewReader(body),
		c.es.Bulk.WithContext(reqCtx),
		c.es.Bulk.WithHeader(map[string]string{"Content-Type": ndjsonContentType}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("bulk request failed",
			zap.Int("documents", len(docs)),
			zap.Error(err),
		)
		return result, fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	result.StatusCode = res.StatusCode
	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		err := fmt.Errorf("bulk request error status=%s body=%s", res.Status(), b)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("bulk request rejected",
			zap.Int("status", res.StatusCode),
			zap.Int("documents", len(docs)),
			zap.ByteString("body", b),
		)
		return result, err
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		// The request was accepted; only the report is unreadable.
		c.logger.Warn("decoding bulk response", zap.Error(err))
		result.Succeeded = len(docs) - len(result.ItemFailures)
		return result, nil
	}

	result.Errors = result.Errors || bulkResp.Errors
	result.ItemFailures = append(result.ItemFailures, bulkResp.failures()...)
	result.Succeeded = len(docs) - len(result.ItemFailures)

	if result.Errors {
		fields := []zap.Field{
			zap.Int("documents", len(docs)),
			zap.Int("failed", len(result.ItemFailures)),
		}
		if len(result.ItemFailures) > 0 {
			first := result.ItemFailures[0]
			fields = append(fields,
				zap.String("first_failed_id", first.ID),
				zap.String("first_reason", first.Reason),
			)
		}
		c.logger.Warn("bulk response reports item failures", fields...)
	}
	span.SetAttributes(
		attribute.Int("bulk.succeeded", result.Succeeded),
		attribute.Int("bulk.failed", len(result.ItemFailures)),
	)
	return result, nil
}

// encodeBulkBody writes an action and a source line per document. Documents
// that cannot be encoded are left out and returned as failures.
func encodeBulkBody(index string, docs []models.IndexDocument) ([]byte, []models.ItemFailure) {
	var (
		buf      bytes.Buffer
		failures []models.ItemFailure
	)
	for _, doc := range docs {
		meta, err := marshalNoEscape(bulkAction{Index: bulkActionMeta{Index: index, ID: doc.ID}})
		if err != nil {
			failures = append(failures, encodeFailure(doc.ID, err))
			continue
		}
		source, err := marshalNoEscape(doc)
		if err != nil {
			failures = append(failures, encodeFailure(doc.ID, err))
			continue
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), failures
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func encodeFailure(id string, err error) models.ItemFailure {
	return models.ItemFailure{ID: id, Type: "encoding_error", Reason: err.Error()}
}

type bulkAction struct {
	Index bulkActionMeta `json:"index"`
}

type bulkActionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Took   int64                       `json:"took"`
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (r bulkResponse) failures() []models.ItemFailure {
	var out []models.ItemFailure
	for _, item := range r.Items {
		for _, res := range item {
			if res.Error == nil && res.Status < http.StatusBadRequest {
				continue
			}
			f := models.ItemFailure{ID: res.ID, Status: res.Status}
			if res.Error != nil {
				f.Type = res.Error.Type
				f.Reason = res.Error.Reason
			}
			out = append(out, f)
		}
	}
	return out
}
