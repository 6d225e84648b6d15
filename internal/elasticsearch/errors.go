package elasticsearch

import (
	"errors"
	"fmt"

	"github.com/shubhsaxena/catalog-search/internal/models"
)

// ErrEngineUnavailable covers transport failures, timeouts, 5xx responses and
// calls refused by the circuit breaker.
var ErrEngineUnavailable = errors.New("search engine unavailable")

// ErrRequestCancelled means the caller's context ended before the engine
// answered. It says nothing about engine health and never counts against the
// circuit breaker. The context error is wrapped alongside it.
var ErrRequestCancelled = errors.New("search request cancelled")

// EngineError is a 4xx answer from the engine. Body is the raw engine
// response, kept for the caller.
type EngineError struct {
	Op     models.Operation
	Status int
	Body   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: engine returned status %d: %s", e.Op, e.Status, e.Body)
}

func unavailable(op models.Operation, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrEngineUnavailable, err)
}

func cancelled(op models.Operation, ctxErr error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrRequestCancelled, ctxErr)
}
