package auth

import "context"

type ctxKey string

const claimsKey ctxKey = "auth_claims"

// ContextWithClaims stores verified access-token claims in the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts the authenticated claims from context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// HasRole checks whether the context carries the given role.
func HasRole(ctx context.Context, role Role) bool {
	claims, ok := ClaimsFromContext(ctx)
	return ok && claims.Role == role
}
