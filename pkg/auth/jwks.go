package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrUnknownIssuer = errors.New("token issuer is not trusted")
)

// signingMethods are the algorithms identity providers sign access tokens with.
var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// JWKSClientInterface validates raw tokens. Tests substitute a mock.
type JWKSClientInterface interface {
	ValidateToken(tokenString string) (*Claims, error)
	Close()
}

// JWKSConfig contains configuration for the JWKS client.
type JWKSConfig struct {
	// EnableVerification=false parses tokens without checking signatures (local development).
	EnableVerification bool
	// JWKSEndpoints maps trusted issuer URLs to their JWKS URLs.
	JWKSEndpoints map[string]string
}

// JWKSClient validates identity-provider JWTs against per-issuer JWKS endpoints.
type JWKSClient struct {
	keys     map[string]keyfunc.Keyfunc
	verify   bool
	verifier *jwt.Parser
	cancel   context.CancelFunc
}

// NewJWKSClient creates a JWKS client. With verification enabled every configured
// endpoint is loaded up front and a failing endpoint fails construction.
func NewJWKSClient(config *JWKSConfig) (*JWKSClient, error) {
	client := &JWKSClient{
		keys:   make(map[string]keyfunc.Keyfunc, len(config.JWKSEndpoints)),
		verify: config.EnableVerification,
		verifier: jwt.NewParser(
			jwt.WithValidMethods(signingMethods),
			jwt.WithExpirationRequired(),
		),
	}
	if !client.verify {
		return client, nil
	}

	if len(config.JWKSEndpoints) == 0 {
		return nil, errors.New("verification enabled but no JWKS endpoints configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	for issuer, jwksURL := range config.JWKSEndpoints {
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load JWKS for issuer %s: %w", issuer, err)
		}
		client.keys[issuer] = kf
	}
	client.cancel = cancel

	return client, nil
}

// ValidateToken verifies the signature against the issuer's keys and returns
// the claims. Tokens without an expiry or from an unconfigured issuer fail.
func (c *JWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	if !c.verify {
		return parseUnverified(tokenString)
	}

	claims := &Claims{}
	_, err := c.verifier.ParseWithClaims(tokenString, claims, c.keyForIssuer)
	if err != nil {
		if errors.Is(err, ErrUnknownIssuer) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func (c *JWKSClient) keyForIssuer(token *jwt.Token) (any, error) {
	issuer, err := token.Claims.GetIssuer()
	if err != nil {
		return nil, err
	}
	kf, ok := c.keys[issuer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, issuer)
	}
	return kf.Keyfunc(token)
}

// parseUnverified reads claims without checking the signature or expiry.
func parseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Close stops background JWKS refresh.
func (c *JWKSClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

var _ JWKSClientInterface = (*JWKSClient)(nil)
