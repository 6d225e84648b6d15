package models

import "time"

// CatalogChangeEvent is published by the catalog source when products change.
// The payload is informational; any event triggers a full reindex pass.
type CatalogChangeEvent struct {
	Type      string    `json:"type"` // CREATE, UPDATE, DELETE
	ProductID string    `json:"product_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReindexEvent describes one finished reindex pass.
type ReindexEvent struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	Fetched    int       `json:"fetched"`
	Mapped     int       `json:"mapped"`
	Skipped    int       `json:"skipped"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// AnalyticsEvent is one row of query performance data for the analytics sink.
type AnalyticsEvent struct {
	EventType  string    `json:"event_type"`
	QueryHash  string    `json:"query_hash"`
	QueryType  string    `json:"query_type"`
	DurationMs float64   `json:"duration_ms"`
	TotalHits  int64     `json:"total_hits"`
	ShardsHit  int       `json:"shards_hit"`
	TimedOut   bool      `json:"timed_out"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
	Source     string    `json:"source"`
}
