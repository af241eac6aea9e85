package reqcache

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Op identifies a cached catalog operation.
type Op string

const (
	OpSearch  Op = "search"
	OpDetails Op = "details"
	OpRelated Op = "related"
)

// Ops lists every cached operation in display order.
var Ops = []Op{OpSearch, OpDetails, OpRelated}

const (
	persistentPrefix = "api_cache_"
	lastSweepKey     = "cache_meta_last_sweep"
)

// NormalizeParam folds case, applies NFKC, trims, and collapses inner
// whitespace so equivalent queries share one cache slot.
func NormalizeParam(value string) string {
	value = norm.NFKC.String(value)
	value = cases.Fold().String(value)
	return strings.Join(strings.Fields(value), " ")
}

// Key builds the composite cache key for op and its parameters.
func Key(op Op, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(op))
	for _, p := range params {
		parts = append(parts, NormalizeParam(p))
	}
	return strings.Join(parts, "|")
}

func persistentKey(key string) string {
	return persistentPrefix + key
}

func opFromKey(key string) Op {
	key = strings.TrimPrefix(key, persistentPrefix)
	if idx := strings.IndexByte(key, '|'); idx >= 0 {
		return Op(key[:idx])
	}
	return Op(key)
}
