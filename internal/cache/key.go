package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shubhsaxena/catalog-search/internal/models"
)

// Key builds the cache signature for one gateway call. Every parameter that
// changes the response must be passed; each one is length-prefixed so
// ("ab","c") and ("a","bc") never collide.
func Key(op models.Operation, params ...string) string {
	var b strings.Builder
	for _, p := range params {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte('|')
	}
	return op.String() + ":" + hashString(b.String())
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
