// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/albapepper/proximity-alerts/internal/api/respond"
)

// ErrInvalidToken is returned for a missing, malformed, expired or
// wrongly signed token.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the caller identity.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWT signs and parses HS256 tokens.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT with the shared secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

// Sign issues a token for userID valid for ttl.
func (j *JWT) Sign(userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Parse verifies token and returns its claims.
func (j *JWT) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.UserID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Request identity
// --------------------------------------------------------------------------

type ctxKey struct{}

// WithUserID returns a context carrying the caller's id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated caller, or "" outside Middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter (browsers cannot set headers
// on a websocket handshake).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token and stores the
// caller's id in the request context.
func Middleware(j *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				respond.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing bearer token")
				return
			}
			claims, err := j.Parse(token)
			if err != nil {
				respond.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}
