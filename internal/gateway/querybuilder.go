package gateway

var searchFields = []string{"name^3", "description^2", "category", "subcategory"}

// suggestFields are the search_as_you_type sub-fields of name plus name
// itself for whole-word matches.
var suggestFields = []string{"name.suggest", "name.suggest._2gram", "name.suggest._3gram", "name"}

const (
	categoryAgg    = "categories"
	subcategoryAgg = "subcategories"
	facetBuckets   = 50
)

type QueryBuilder struct{}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Search weights name highest, then description. Empty text browses the
// whole index.
func (qb *QueryBuilder) Search(text string, size int) map[string]any {
	query := map[string]any{"match_all": map[string]any{}}
	if text != "" {
		query = map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": searchFields,
			},
		}
	}
	return map[string]any{
		"size":  size,
		"query": query,
	}
}

func (qb *QueryBuilder) Suggest(prefix string, size int) map[string]any {
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  prefix,
				"type":   "bool_prefix",
				"fields": suggestFields,
			},
		},
		"_source": []string{"id", "name", "image"},
	}
}

func (qb *QueryBuilder) Facets() map[string]any {
	return map[string]any{
		"size": 0,
		"aggs": map[string]any{
			categoryAgg: map[string]any{
				"terms": map[string]any{"field": "category.keyword", "size": facetBuckets},
			},
			subcategoryAgg: map[string]any{
				"terms": map[string]any{"field": "subcategory.keyword", "size": facetBuckets},
			},
		},
	}
}
