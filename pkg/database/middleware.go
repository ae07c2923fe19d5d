package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
)

// WithIdentityContext creates middleware that sets up an identity-scoped DB connection.
// It runs AFTER auth middleware and uses the subject from JWT claims as the identity id.
// The connection is automatically cleaned up after the handler returns.
func WithIdentityContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetClaims(r.Context())
			if !ok || claims.Subject == "" {
				logger.Error("Missing subject in claims")
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing identity")
				return
			}

			identityID, err := uuid.Parse(claims.Subject)
			if err != nil {
				logger.Warn("Invalid identity ID format in claims",
					zap.String("subject", claims.Subject),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_identity", "Invalid identity ID format")
				return
			}

			scope, err := db.WithIdentity(r.Context(), identityID)
			if err != nil {
				logger.Error("Failed to acquire identity connection",
					zap.String("identity_id", identityID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			ctx := SetIdentityScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
