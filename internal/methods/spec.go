package methods

import (
	"fmt"
	"strings"

	"github.com/lastfmproxy/lastfmproxy/internal/params"
)

// Kind enumerates the required-parameter rule shapes.
type Kind int

const (
	KindNone Kind = iota
	KindSingle
	KindAnyOf
	KindAllOf
	KindCombined
)

// Spec is the required-parameter rule of one method.
type Spec struct {
	Kind Kind
	// Keys holds the single key, the any-of group or the all-of group.
	Keys []string
	// Alt is the alternative single key of a combined rule.
	Alt string
}

// None is satisfied by any parameter set.
func None() Spec { return Spec{Kind: KindNone} }

// Single is satisfied when key is present.
func Single(key string) Spec { return Spec{Kind: KindSingle, Keys: []string{key}} }

// AnyOf is satisfied when at least one of keys is present.
func AnyOf(keys ...string) Spec { return Spec{Kind: KindAnyOf, Keys: keys} }

// AllOf is satisfied when every one of keys is present.
func AllOf(keys ...string) Spec { return Spec{Kind: KindAllOf, Keys: keys} }

// Combined is satisfied by every key in all, or by alt alone.
func Combined(alt string, all ...string) Spec {
	return Spec{Kind: KindCombined, Keys: all, Alt: alt}
}

// Satisfied reports whether p meets the rule. Presence is by key; an empty
// value counts.
func (s Spec) Satisfied(p params.Set) bool {
	switch s.Kind {
	case KindNone:
		return true
	case KindSingle, KindAllOf:
		return hasAll(p, s.Keys)
	case KindAnyOf:
		for _, k := range s.Keys {
			if p.Has(k) {
				return true
			}
		}
		return false
	case KindCombined:
		return hasAll(p, s.Keys) || p.Has(s.Alt)
	}
	return false
}

// Describe renders the rule as the message reported when it is not met.
func (s Spec) Describe() string {
	switch s.Kind {
	case KindSingle:
		return "Missing required parameter: " + s.Keys[0]
	case KindAnyOf:
		return "Missing required parameter: " + strings.Join(s.Keys, " or ")
	case KindAllOf:
		return "Missing required parameters: " + conjunction(s.Keys)
	case KindCombined:
		return fmt.Sprintf("Missing required parameters: (%s) or %s", conjunction(s.Keys), s.Alt)
	}
	return ""
}

func hasAll(p params.Set, keys []string) bool {
	for _, k := range keys {
		if !p.Has(k) {
			return false
		}
	}
	return true
}

// conjunction joins "a and b" or "a, b, and c".
func conjunction(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	case 2:
		return keys[0] + " and " + keys[1]
	}
	return strings.Join(keys[:len(keys)-1], ", ") + ", and " + keys[len(keys)-1]
}
