package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the payload of the netsblox_session cookie. The cloud
// has no password store, so login is magic-link only and the cookie is
// simply a signed, expiring username.
type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and validates the HMAC-signed session cookie
// value: a JWT with a symmetric secret.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	return &SessionIssuer{secret: []byte(secret), ttl: ttl}
}

func (s *SessionIssuer) Issue(username string) (string, time.Time, error) {
	exp := time.Now().Add(s.ttl)
	claims := sessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, exp, err
}

// Validate is shaped as an Extractor cookieValidator: (ctx, value) -> (username, ok).
func (s *SessionIssuer) Validate(_ context.Context, cookieValue string) (string, bool) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(cookieValue, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	return claims.Username, true
}
