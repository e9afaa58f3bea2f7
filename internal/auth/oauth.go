// Package auth implements identity extraction and the Auth Witnesses
// component: typed capability values whose only constructors are
// the try_* predicate checks in this package.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/netsblox/cloud/internal/usererr"
)

// OAuthClaims is the JWT payload this service trusts for OAuth-token and
// authorized-host requests: external tools and server-to-server message
// injection authenticate with a bearer token validated against a JWKS
// endpoint.
type OAuthClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*OAuthClaims, error)
}

// JWKSValidator validates tokens against a JWKS endpoint with a
// refreshing key cache.
type JWKSValidator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

func NewJWKSValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSValidator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &JWKSValidator{keyFunc: keyFunc, issuer: issuerURL.String(), audience: audience}, nil
}

func (v *JWKSValidator) ValidateToken(tokenString string) (*OAuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OAuthClaims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, usererr.New(usererr.LoginRequired, "invalid or expired token")
	}
	if !token.Valid {
		return nil, usererr.New(usererr.LoginRequired, "invalid token")
	}
	claims, ok := token.Claims.(*OAuthClaims)
	if !ok {
		return nil, usererr.New(usererr.LoginRequired, "unexpected claim shape")
	}
	return claims, nil
}
