// Package libauth issues and validates the JWTs that carry the acting
// identity through the API surface. Handlers resolve the actor with
// GetIdentity and services compare it against resource ownership.
package libauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotAuthorized           = errors.New("libauth: not authorized")
	ErrTokenExpired            = errors.New("libauth: token expired")
	ErrIssuedAtMissing         = errors.New("libauth: token issued-at claim missing")
	ErrIssuedAtInFuture        = errors.New("libauth: token issued-at claim is in the future")
	ErrIdentityMissing         = errors.New("libauth: identity claim missing")
	ErrInvalidTokenClaims      = errors.New("libauth: invalid token claims")
	ErrTokenMissing            = errors.New("libauth: token missing")
	ErrUnexpectedSigningMethod = errors.New("libauth: unexpected signing method")
	ErrTokenParsingFailed      = errors.New("libauth: token parsing failed")
	ErrTokenSigningFailed      = errors.New("libauth: token signing failed")
)

type contextKey string

const contextKeyIdentity contextKey = "libauth-identity"

// Claims is the JWT payload. Identity is the stable subject id used for
// ownership checks.
type Claims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// CreateToken signs an HS256 token for identity with the given lifetime.
func CreateToken(secret, identity string, lifetime time.Duration) (string, error) {
	if identity == "" {
		return "", ErrIdentityMissing
	}
	now := time.Now().UTC()
	claims := Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTokenSigningFailed, err.Error())
	}
	return signed, nil
}

// ValidateToken parses and verifies a token string, returning the identity.
func ValidateToken(secret, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrTokenMissing
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return []byte(secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		case errors.Is(err, ErrUnexpectedSigningMethod):
			return "", ErrUnexpectedSigningMethod
		default:
			return "", fmt.Errorf("%w: %s", ErrTokenParsingFailed, err.Error())
		}
	}
	if !token.Valid {
		return "", ErrInvalidTokenClaims
	}
	if claims.IssuedAt == nil {
		return "", ErrIssuedAtMissing
	}
	if claims.IssuedAt.After(time.Now().UTC().Add(time.Minute)) {
		return "", ErrIssuedAtInFuture
	}
	if claims.Identity == "" {
		return "", ErrIdentityMissing
	}
	return claims.Identity, nil
}

// WithIdentity stores the validated identity on the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// GetIdentity returns the identity previously stored on the context.
func GetIdentity(ctx context.Context) (string, error) {
	identity, ok := ctx.Value(contextKeyIdentity).(string)
	if !ok || identity == "" {
		return "", ErrNotAuthorized
	}
	return identity, nil
}

// Middleware validates the bearer token and attaches the identity to the
// request context. When secret is empty, auth is disabled and the
// X-Actor-ID header is trusted as-is (local development mode).
func Middleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			if actor := r.Header.Get("X-Actor-ID"); actor != "" {
				r = r.WithContext(WithIdentity(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			tokenString = ""
		}
		identity, err := ValidateToken(secret, tokenString)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
