package auth

import "context"

type claimsContextKey struct{}

// ContextWithClaims attaches verified access-token claims to ctx.
func ContextWithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(claimsContextKey{}).(*AccessClaims)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}
