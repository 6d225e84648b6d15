package models

// Operation names a query kind served by the gateway. It is part of every
// cache key and every engine error.
type Operation string

const (
	OpSearch  Operation = "search"
	OpSuggest Operation = "suggest"
	OpFacets  Operation = "facets"
)

func (o Operation) String() string {
	return string(o)
}

type Hit struct {
	Index  string         `json:"_index,omitempty"`
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source,omitempty"`
}

// Item is the simplified projection of a hit returned alongside the raw hits.
type Item struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Image       string  `json:"image,omitempty"`
	Score       float64 `json:"score"`
}

type SearchResponse struct {
	Query    string           `json:"query"`
	Total    int64            `json:"total"`
	TookMs   int64            `json:"took_ms"`
	Hits     []Hit            `json:"hits"`
	Items    []Item           `json:"items"`
	Metadata ResponseMetadata `json:"metadata"`
}

type Facet struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type FacetsResponse struct {
	Categories    []Facet          `json:"categories"`
	Subcategories []Facet          `json:"subcategories"`
	Metadata      ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	CacheHit  bool   `json:"cache_hit"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// EmptySearchResponse is the shape returned when the engine is unavailable
// and the deployment degrades instead of failing.
func EmptySearchResponse(query string) *SearchResponse {
	return &SearchResponse{
		Query:    query,
		Hits:     []Hit{},
		Items:    []Item{},
		Metadata: ResponseMetadata{Degraded: true},
	}
}

func EmptyFacetsResponse() *FacetsResponse {
	return &FacetsResponse{
		Categories:    []Facet{},
		Subcategories: []Facet{},
		Metadata:      ResponseMetadata{Degraded: true},
	}
}
