package cache

import "context"

type bypassContextKey struct{}

// WithoutCache marks the context so that reads skip the cache and go straight
// to the store. Writes still invalidate.
func WithoutCache(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, bypassContextKey{}, true)
}

// Bypassed reports whether WithoutCache was applied to ctx.
func Bypassed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(bypassContextKey{}).(bool)
	return v
}
