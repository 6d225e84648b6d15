package gateway

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxQueryRunes = 200

var multiSpacePattern = regexp.MustCompile(`\s+`)

// Normalize lowercases text, drops control characters, collapses runs of
// whitespace and caps the length. The engine analyzer folds case anyway, so
// normalized text is what gets sent and what keys the cache.
func Normalize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	normalized := strings.ToLower(cleaned)
	normalized = multiSpacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	if utf8.RuneCountInString(normalized) > maxQueryRunes {
		normalized = strings.TrimSpace(string([]rune(normalized)[:maxQueryRunes]))
	}
	return normalized
}
