package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/shubhsaxena/catalog-search/internal/models"
)

// Accepted key spellings, in lookup order. The upstream catalog has shipped
// Spanish and English field names over time.
var (
	idKeys          = []string{"id", "ID", "productId"}
	nameKeys        = []string{"nombre", "name", "title"}
	descriptionKeys = []string{"descripcion", "description", "detalle"}
	categoryKeys    = []string{"categoria", "category"}
	subcategoryKeys = []string{"subcategoria", "subcategory", "subCategoria"}
	imageKeys       = []string{"imagen", "image", "img"}
	priceKeys       = []string{"precio", "price"}
	updatedAtKeys   = []string{"updated_at", "updatedAt"}
)

// Map converts one catalog record into an index document. The second return
// is false when the record has no usable identifier.
func Map(rec models.CatalogRecord) (models.IndexDocument, bool) {
	id := recordID(rec)
	if id == "" {
		return models.IndexDocument{}, false
	}

	return models.IndexDocument{
		ID:          id,
		Name:        firstString(rec, nameKeys),
		Description: firstString(rec, descriptionKeys),
		Category:    firstString(rec, categoryKeys),
		Subcategory: firstString(rec, subcategoryKeys),
		Image:       firstString(rec, imageKeys),
		Price:       parsePrice(firstValue(rec, priceKeys)),
		UpdatedAt:   parseTimestamp(firstValue(rec, updatedAtKeys)),
	}, true
}

// MapAll maps every record in order and returns how many were skipped.
func MapAll(recs []models.CatalogRecord) ([]models.IndexDocument, int) {
	docs := make([]models.IndexDocument, 0, len(recs))
	skipped := 0
	for _, rec := range recs {
		doc, ok := Map(rec)
		if !ok {
			skipped++
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped
}

func recordID(rec models.CatalogRecord) string {
	v := firstValue(rec, idKeys)
	if v == nil {
		return ""
	}
	switch v.(type) {
	case map[string]any, []any, bool:
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstValue(rec models.CatalogRecord, keys []string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(rec models.CatalogRecord, keys []string) string {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		return strings.TrimSpace(s)
	}
	return ""
}

// parsePrice never fails: absent, malformed or non-finite prices become 0.
func parsePrice(v any) float64 {
	var (
		d   decimal.Decimal
		err error
	)
	switch p := v.(type) {
	case nil, bool:
		return 0
	case json.Number:
		d, err = decimal.NewFromString(p.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(p))
	case float64:
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0
		}
		d = decimal.NewFromFloat(p)
	default:
		f, cerr := cast.ToFloat64E(p)
		if cerr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		d = decimal.NewFromFloat(f)
	}
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return 0
	}
	return f
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds. Times that
// fall outside years 0 to 9999 are dropped since they cannot be encoded as
// RFC 3339.
func parseTimestamp(v any) *time.Time {
	var ms int64
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return encodable(ts.UTC())
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		ms = n
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil
		}
		ms = n
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t >= math.MaxInt64 || t < math.MinInt64 {
			return nil
		}
		ms = int64(t)
	default:
		return nil
	}
	return encodable(time.UnixMilli(ms).UTC())
}

func encodable(ts time.Time) *time.Time {
	if y := ts.Year(); y < 0 || y > 9999 {
		return nil
	}
	return &ts
}
