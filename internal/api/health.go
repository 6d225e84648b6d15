package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type ESHealthChecker interface {
	HealthCheck(ctx context.Context) (string, error)
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	esCheck ESHealthChecker
	logger  *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]HealthChecker),
		logger: logger,
	}
}

func (h *HealthHandler) Register(name string, checker HealthChecker) {
	h.checks[name] = checker
}

func (h *HealthHandler) RegisterES(checker ESHealthChecker) {
	h.esCheck = checker
}

type componentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// Readiness probes every registered dependency concurrently. The engine
// counts as ready while yellow; red or unreachable fails the probe.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]componentHealth)
	var mu sync.Mutex
	record := func(name string, ch componentHealth) {
		mu.Lock()
		results[name] = ch
		mu.Unlock()
	}

	// Every check runs to completion; the group reports the first failure and
	// each component keeps its own result.
	var g errgroup.Group
	for name, checker := range h.checks {
		name, checker := name, checker
		g.Go(func() error {
			start := time.Now()
			err := checker.HealthCheck(ctx)
			ch := componentHealth{
				Status:  "healthy",
				Latency: time.Since(start).String(),
			}
			if err != nil {
				ch.Status = "unhealthy"
				ch.Error = err.Error()
				err = fmt.Errorf("%s: %w", name, err)
			}
			record(name, ch)
			return err
		})
	}

	if h.esCheck != nil {
		g.Go(func() error {
			start := time.Now()
			status, err := h.esCheck.HealthCheck(ctx)
			if err == nil && status == "red" {
				err = errors.New("cluster status red")
			}
			ch := componentHealth{
				Status:  status,
				Latency: time.Since(start).String(),
			}
			if err != nil {
				if ch.Status == "" {
					ch.Status = "unhealthy"
				}
				ch.Error = err.Error()
				err = fmt.Errorf("elasticsearch: %w", err)
			}
			record("elasticsearch", ch)
			return err
		})
	}

	overallStatus := http.StatusOK
	overall := "healthy"
	if err := g.Wait(); err != nil {
		overallStatus = http.StatusServiceUnavailable
		overall = "degraded"
		for name, ch := range results {
			if ch.Error != "" {
				h.logger.Warn("readiness check failed",
					zap.String("component", name),
					zap.String("error", ch.Error),
				)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(overallStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":     overall,
		"components": results,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
