package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Middleware rejects API requests that carry no valid identity token.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth puts the caller's claims and token in the request context.
// Requests without a valid identity token get 401 and never reach next.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, challengeMessage(err))
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// challengeMessage tells the client what to fix without echoing token contents.
func challengeMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingAuthorization):
		return "Bearer token required"
	case errors.Is(err, ErrInvalidAuthFormat):
		return "Authorization header must be 'Bearer <token>'"
	case errors.Is(err, ErrMissingSubject), errors.Is(err, ErrInvalidSubject):
		return "Token does not identify a user"
	default:
		return "Invalid or expired token"
	}
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="crm"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
