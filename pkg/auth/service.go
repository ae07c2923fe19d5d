package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingSubject       = errors.New("missing subject in token")
	ErrInvalidSubject       = errors.New("token subject is not an identity id")
)

// AuthService validates the bearer token on API requests.
type AuthService interface {
	// ValidateRequest returns the claims of a valid bearer token whose subject
	// is an identity id, together with the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	jwksClient JWKSClientInterface
	logger     *zap.Logger
}

// NewAuthService creates a new AuthService with the given JWKS client and logger.
func NewAuthService(jwksClient JWKSClientInterface, logger *zap.Logger) AuthService {
	return &authService{
		jwksClient: jwksClient,
		logger:     logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		s.logger.Debug("No usable bearer token",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, "", err
	}

	claims, err := s.jwksClient.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, "", err
	}

	if claims.Subject == "" {
		return nil, "", ErrMissingSubject
	}
	// Lead and role rows are keyed by identity id, so the subject must be one.
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidSubject, claims.Subject)
	}

	return claims, tokenString, nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", ErrInvalidAuthFormat
	}
	return token, nil
}

var _ AuthService = (*authService)(nil)
