package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokenValidator struct {
	claims *OAuthClaims
	err    error
}

func (s *stubTokenValidator) ValidateToken(string) (*OAuthClaims, error) {
	return s.claims, s.err
}

func cookieValidatorFor(username string) func(context.Context, string) (string, bool) {
	return func(_ context.Context, v string) (string, bool) {
		if v == "valid-cookie" {
			return username, true
		}
		return "", false
	}
}

func TestExtractSessionCookie(t *testing.T) {
	e := NewExtractor(cookieValidatorFor("alice"), nil, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "netsblox_session", Value: "valid-cookie"})

	id := e.Extract(req)
	assert.Equal(t, "alice", id.Username)
}

func TestExtractBearerTokenWhenNoCookie(t *testing.T) {
	validator := &stubTokenValidator{claims: &OAuthClaims{}}
	validator.claims.Subject = "bob"
	e := NewExtractor(nil, validator, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer sometoken")

	id := e.Extract(req)
	assert.Equal(t, "bob", id.Username)
}

func TestExtractBearerTokenInvalid(t *testing.T) {
	validator := &stubTokenValidator{err: errors.New("bad token")}
	e := NewExtractor(nil, validator, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")

	id := e.Extract(req)
	assert.Empty(t, id.Username)
}

func TestExtractAuthorizedHost(t *testing.T) {
	e := NewExtractor(nil, nil, "X-Host", []string{"trusted-host"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Host", "trusted-host")

	id := e.Extract(req)
	assert.Equal(t, "trusted-host", id.AuthorizedHost)
	assert.True(t, id.IsAuthorizedHost())
}

func TestExtractUnrecognizedHostIgnored(t *testing.T) {
	e := NewExtractor(nil, nil, "X-Host", []string{"trusted-host"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Host", "random")

	id := e.Extract(req)
	assert.False(t, id.IsAuthorizedHost())
}

func TestMiddlewareStashesIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := NewExtractor(cookieValidatorFor("alice"), nil, "", nil)

	r := gin.New()
	r.Use(e.Middleware())
	var captured Identity
	r.GET("/", func(c *gin.Context) {
		captured = FromGin(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "netsblox_session", Value: "valid-cookie"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", captured.Username)
}

func TestFromGinWithoutMiddlewareReturnsZeroValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	id := FromGin(c)
	assert.Empty(t, id.Username)
}
