// Package estest provides an in-memory stand-in for the subset of the
// Elasticsearch HTTP API this service uses: index bootstrap, _bulk, _search
// with multi_match and terms aggregations, and cluster health.
package estest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Server struct {
	*httptest.Server

	mu           sync.Mutex
	indices      map[string]bool
	docs         map[string]map[string]any
	failIDs      map[string]bool
	searchStatus int
	searchDelay  time.Duration
	lastBulk     []byte
	lastCT       string
	lastAuth     string
	lastQuery    map[string]any

	searches atomic.Int64
	bulks    atomic.Int64
}

func NewServer() *Server {
	s := &Server{
		indices: make(map[string]bool),
		docs:    make(map[string]map[string]any),
		failIDs: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailSearchWith makes every _search answer with status and an error body.
// Zero restores normal behavior.
func (s *Server) FailSearchWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchStatus = status
}

// DelaySearch holds every _search for d before answering, or until the
// client goes away.
func (s *Server) DelaySearch(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchDelay = d
}

// RejectIDs makes bulk items with these ids fail with a mapping error.
func (s *Server) RejectIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failIDs[id] = true
	}
}

func (s *Server) Searches() int64 { return s.searches.Load() }
func (s *Server) Bulks() int64    { return s.bulks.Load() }

func (s *Server) DocCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *Server) Doc(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

func (s *Server) IndexExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indices[name]
}

func (s *Server) LastBulkBody() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBulk
}

func (s *Server) LastBulkContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCT
}

func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

func (s *Server) LastQuery() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	s.mu.Lock()
	s.lastAuth = r.Header.Get("Authorization")
	s.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "_bulk" && r.Method == http.MethodPost:
		s.handleBulk(w, r)
	case path == "_cluster/health":
		writeJSON(w, http.StatusOK, map[string]any{"status": "green"})
	case strings.HasSuffix(path, "/_search"):
		s.handleSearch(w, r)
	case r.Method == http.MethodHead && path != "":
		s.mu.Lock()
		ok := s.indices[path]
		s.mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && path != "":
		s.mu.Lock()
		exists := s.indices[path]
		s.indices[path] = true
		s.mu.Unlock()
		if exists {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  map[string]any{"type": "resource_already_exists_exception", "reason": "index exists"},
				"status": 400,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": path})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no handler for " + r.Method + " " + r.URL.Path})
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	s.bulks.Add(1)
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBulk = body
	s.lastCT = r.Header.Get("Content-Type")

	var (
		items     []map[string]any
		hasErrors bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "parse_exception", "reason": err.Error()}})
			return
		}
		meta := action["index"]
		if !sc.Scan() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "action_request_validation_exception", "reason": "missing source line"}})
			return
		}
		var src map[string]any
		if err := json.Unmarshal(sc.Bytes(), &src); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "parse_exception", "reason": err.Error()}})
			return
		}

		id, _ := meta["_id"].(string)
		if s.failIDs[id] {
			hasErrors = true
			items = append(items, map[string]any{"index": map[string]any{
				"_id":    id,
				"status": 400,
				"error":  map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse field [price]"},
			}})
			continue
		}
		status := 201
		if _, ok := s.docs[id]; ok {
			status = 200
		}
		s.docs[id] = src
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": status}})
	}

	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.searches.Add(1)

	s.mu.Lock()
	delay := s.searchDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	var q map[string]any
	_ = json.NewDecoder(r.Body).Decode(&q)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q

	if s.searchStatus != 0 {
		writeJSON(w, s.searchStatus, map[string]any{
			"error":  map[string]any{"type": "search_phase_execution_exception", "reason": "forced failure"},
			"status": s.searchStatus,
		})
		return
	}

	size := 10
	if v, ok := q["size"].(float64); ok {
		size = int(v)
	}

	text, prefix := matchText(q)
	var ids []string
	for id, doc := range s.docs {
		if matches(doc, text, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	hits := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		if i >= size {
			break
		}
		hits = append(hits, map[string]any{
			"_index":  "productos",
			"_id":     id,
			"_score":  1.0,
			"_source": s.docs[id],
		})
	}

	resp := map[string]any{
		"took":      1,
		"timed_out": false,
		"_shards":   map[string]any{"total": 1, "successful": 1, "skipped": 0, "failed": 0},
		"hits": map[string]any{
			"total": map[string]any{"value": len(ids), "relation": "eq"},
			"hits":  hits,
		},
	}
	if aggs, ok := q["aggs"].(map[string]any); ok {
		resp["aggregations"] = s.aggregate(aggs)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) aggregate(aggs map[string]any) map[string]any {
	out := make(map[string]any, len(aggs))
	for name, def := range aggs {
		terms, _ := def.(map[string]any)["terms"].(map[string]any)
		field, _ := terms["field"].(string)
		field = strings.TrimSuffix(field, ".keyword")

		counts := map[string]int{}
		for _, doc := range s.docs {
			if v, ok := doc[field].(string); ok && v != "" {
				counts[v]++
			}
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if counts[keys[i]] != counts[keys[j]] {
				return counts[keys[i]] > counts[keys[j]]
			}
			return keys[i] < keys[j]
		})
		buckets := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			buckets = append(buckets, map[string]any{"key": k, "doc_count": counts[k]})
		}
		out[name] = map[string]any{"buckets": buckets}
	}
	return out
}

func matchText(q map[string]any) (string, bool) {
	query, _ := q["query"].(map[string]any)
	mm, ok := query["multi_match"].(map[string]any)
	if !ok {
		return "", false
	}
	text, _ := mm["query"].(string)
	typ, _ := mm["type"].(string)
	return strings.ToLower(text), typ == "bool_prefix"
}

func matches(doc map[string]any, text string, prefix bool) bool {
	if text == "" {
		return true
	}
	if prefix {
		name, _ := doc["name"].(string)
		for _, word := range strings.Fields(strings.ToLower(name)) {
			for _, term := range strings.Fields(text) {
				if strings.HasPrefix(word, term) {
					return true
				}
			}
		}
		return false
	}
	for _, field := range []string{"name", "description", "category", "subcategory"} {
		v, _ := doc[field].(string)
		for _, term := range strings.Fields(text) {
			if strings.Contains(strings.ToLower(v), term) {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
