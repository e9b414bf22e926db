// Package auth validates the bearer tokens presented at WebSocket handshake
// time and on authenticated query endpoints. Tokens are HS256 JWTs issued by
// the marketplace's auth service; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the realtime core cares about. The subject is
// the user ID; Role distinguishes travelers, operators, and admins but is
// informational here (all roles get the same realtime surface).
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier checks bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. issuer is optional; when non-empty the
// token's iss claim must match.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates a token string. It returns the claims on
// success. Expired, malformed, or wrongly signed tokens all fail, as do
// tokens without a subject.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return claims, nil
}

// TokenFromRequest extracts the bearer token from an HTTP request. The
// Authorization header takes precedence; browsers cannot set headers on
// WebSocket handshakes, so a "token" query parameter is accepted as well.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}
