package database

import "context"

type contextKey string

const (
	// IdentityScopeKey is the context key for storing the identity-scoped database connection.
	IdentityScopeKey contextKey = "identityScope"
)

// GetIdentityScope retrieves the identity-scoped database connection from context.
// Returns nil and false if not present.
func GetIdentityScope(ctx context.Context) (*IdentityScope, bool) {
	scope, ok := ctx.Value(IdentityScopeKey).(*IdentityScope)
	return scope, ok
}

// SetIdentityScope stores the identity-scoped database connection in context.
func SetIdentityScope(ctx context.Context, scope *IdentityScope) context.Context {
	return context.WithValue(ctx, IdentityScopeKey, scope)
}
