package models

import "time"

// CatalogRecord is one product as returned by the upstream catalog source.
// Keys and value types vary between catalog versions.
type CatalogRecord map[string]any

// IndexDocument is the normalized form written to the search engine. ID is
// the engine document key, so writing the same ID again overwrites.
type IndexDocument struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Subcategory string     `json:"subcategory"`
	Image       string     `json:"image"`
	Price       float64    `json:"price"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// BulkResult is the outcome of one bulk submission.
type BulkResult struct {
	StatusCode   int           `json:"status_code"`
	Errors       bool          `json:"errors"`
	Submitted    int           `json:"submitted"`
	Succeeded    int           `json:"succeeded"`
	ItemFailures []ItemFailure `json:"item_failures,omitempty"`
}

type ItemFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
