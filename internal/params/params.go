// Package params holds the request parameter set and its canonical form.
//
// The canonical form filters a set against an exclusion list, sorts the
// remaining pairs bytewise by key and is independent of map iteration
// order. Cache keys and request signatures are both derived from it, with
// different exclusion lists.
package params

import (
	"net/url"
	"slices"
	"strings"
)

// CacheNamespace prefixes every cache key.
const CacheNamespace = "lastfm"

var (
	// CacheExclusions never influence which cached response is served.
	CacheExclusions = []string{"api_key", "format", "callback"}
	// SignatureExclusions are left out of signed strings. api_key stays in so
	// the signature binds to the caller's key.
	SignatureExclusions = []string{"api_sig", "format", "callback"}
)

// Set maps parameter names to values. Names are unique and case-sensitive.
type Set map[string]string

// Pair is one canonical key/value entry.
type Pair struct {
	Key   string
	Value string
}

// FromQuery builds a Set from a query string. A repeated parameter keeps its
// last value.
func FromQuery(q url.Values) Set {
	s := make(Set, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			s[k] = vs[len(vs)-1]
		}
	}
	return s
}

// Has reports whether key is present. An empty value counts as present.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Canonicalize drops excluded keys and sorts the rest by key.
func Canonicalize(s Set, exclusions []string) []Pair {
	pairs := make([]Pair, 0, len(s))
	for k, v := range s {
		if slices.Contains(exclusions, k) {
			continue
		}
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	slices.SortFunc(pairs, func(a, b Pair) int { return strings.Compare(a.Key, b.Key) })
	return pairs
}

// Join renders pairs as k1=v1&k2=v2 without URL encoding.
func Join(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// CacheKey returns "lastfm:<method>:<joined pairs>" over the cache exclusions.
func CacheKey(method string, s Set) string {
	return CacheNamespace + ":" + method + ":" + Join(Canonicalize(s, CacheExclusions))
}
