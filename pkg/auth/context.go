package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
)

// GetIdentityIDFromContext extracts the identity id from JWT claims in the context.
// Returns uuid.Nil and false if not authenticated or the subject is not a UUID.
func GetIdentityIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireIdentityFromContext returns the caller identity (id and e-mail) or ErrUnauthenticated.
func RequireIdentityFromContext(ctx context.Context) (models.Identity, error) {
	id, ok := GetIdentityIDFromContext(ctx)
	if !ok {
		return models.Identity{}, fmt.Errorf("valid identity not found in context: %w", apperrors.ErrUnauthenticated)
	}

	claims, _ := GetClaims(ctx)
	return models.Identity{ID: id, Email: claims.Email}, nil
}
