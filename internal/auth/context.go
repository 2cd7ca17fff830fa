package auth

import "context"

type claimsContextKey struct{}

// WithClaims stores verified claims on the context for downstream consumers.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims.Clone())
}

// ClaimsFromContext retrieves verified claims from the context. The second
// return value is false for anonymous callers.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims.Clone(), true
}
