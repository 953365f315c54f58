// Package methods is the dispatch table of supported Last.fm API methods:
// required parameters, route path, privilege and client-side defaults.
package methods

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/lastfmproxy/lastfmproxy/internal/params"
)

// ErrUnknownMethod matches every *UnknownMethodError.
var ErrUnknownMethod = errors.New("unknown method")

// UnknownMethodError is returned for a method missing from the table.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string { return "Unknown method: " + e.Method }

func (e *UnknownMethodError) Is(target error) bool { return target == ErrUnknownMethod }

// MissingParameterError is returned when a method's Spec is not satisfied.
type MissingParameterError struct {
	Method string
	Spec   Spec
}

func (e *MissingParameterError) Error() string { return e.Spec.Describe() }

// Method describes one upstream method.
type Method struct {
	Name string
	Spec Spec
	// Privileged methods are signed by the proxy with the API secret and
	// never cached.
	Privileged bool
	// Defaults are applied by clients for absent optional parameters.
	Defaults map[string]string
}

// Category returns the part of the name before the dot.
func (m Method) Category() string {
	c, _, _ := strings.Cut(m.Name, ".")
	return c
}

// Path returns the inbound route, "/<category>/<method>".
func (m Method) Path() string {
	return "/" + strings.Replace(m.Name, ".", "/", 1)
}

// Lookup finds a method by name.
func Lookup(name string) (Method, bool) {
	m, ok := table[name]
	return m, ok
}

// ByPath finds a method by its route path.
func ByPath(path string) (Method, bool) {
	name := strings.Replace(strings.TrimPrefix(path, "/"), "/", ".", 1)
	return Lookup(name)
}

// All returns every method sorted by name.
func All() []Method {
	names := slices.Sorted(maps.Keys(table))
	out := make([]Method, 0, len(names))
	for _, n := range names {
		out = append(out, table[n])
	}
	return out
}

// Validate checks p against the rule for method. It performs no I/O.
func Validate(method string, p params.Set) error {
	m, ok := table[method]
	if !ok {
		return &UnknownMethodError{Method: method}
	}
	if !m.Spec.Satisfied(p) {
		return &MissingParameterError{Method: method, Spec: m.Spec}
	}
	return nil
}

// WithDefaults returns a copy of p with the method's defaults filled in for
// absent keys.
func (m Method) WithDefaults(p params.Set) params.Set {
	out := p.Clone()
	for k, v := range m.Defaults {
		if !out.Has(k) {
			out[k] = v
		}
	}
	return out
}

func (m Method) String() string {
	return fmt.Sprintf("%s (%s)", m.Name, m.Path())
}
