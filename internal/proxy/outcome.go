package proxy

import (
	"context"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
)

// Outcome is filled in by the handler so outer middleware can log and count
// the request without parsing the response.
type Outcome struct {
	Method string        // Last.fm method name, empty for non-method routes
	Cache  string        // CacheHit, CacheMiss or empty
	Code   apierror.Code // 0 on success
}

type outcomeKey struct{}

// WithOutcome attaches a fresh Outcome to ctx.
func WithOutcome(ctx context.Context) (context.Context, *Outcome) {
	o := &Outcome{}
	return context.WithValue(ctx, outcomeKey{}, o), o
}

// OutcomeFrom returns the Outcome attached to ctx, or a throwaway one.
func OutcomeFrom(ctx context.Context) *Outcome {
	if o, ok := ctx.Value(outcomeKey{}).(*Outcome); ok {
		return o
	}
	return &Outcome{}
}
