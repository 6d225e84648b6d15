package elasticsearch

import "fmt"

// indexMapping folds case and accents on text fields so "proteína" matches
// "Proteina". name.suggest backs prefix suggestions.
func indexMapping(shards, replicas int) string {
	return fmt.Sprintf(`{
  "settings": {
    "number_of_shards": %d,
    "number_of_replicas": %d,
    "analysis": {
      "analyzer": {
        "folding_analyzer": {
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id": { "type": "keyword" },
      "name": {
        "type": "text",
        "analyzer": "folding_analyzer",
        "fields": {
          "keyword": { "type": "keyword", "ignore_above": 256 },
          "suggest": { "type": "search_as_you_type", "analyzer": "folding_analyzer" }
        }
      },
      "description": {
        "type": "text",
        "analyzer": "folding_analyzer",
        "fields": {
          "keyword": { "type": "keyword", "ignore_above": 256 }
        }
      },
      "category": {
        "type": "text",
        "analyzer": "folding_analyzer",
        "fields": { "keyword": { "type": "keyword", "ignore_above": 256 } }
      },
      "subcategory": {
        "type": "text",
        "analyzer": "folding_analyzer",
        "fields": { "keyword": { "type": "keyword", "ignore_above": 256 } }
      },
      "image": { "type": "keyword", "ignore_above": 512 },
      "price": { "type": "float" },
      "updated_at": { "type": "date", "format": "strict_date_optional_time||epoch_millis" }
    }
  }
}`, shards, replicas)
}
