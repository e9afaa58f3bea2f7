package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

func newTestAPI(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := store.NewMemoryStore()
	return &Server{
		Metadata: s,
		Checker:  auth.NewChecker(s),
	}, s
}

func performJSON(handler gin.HandlerFunc, method, path, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	if identity != nil {
		c.Set("auth.identity", *identity)
	}
	handler(c)
	return w
}

func TestCreateUserSelfRegistration(t *testing.T) {
	srv, s := newTestAPI(t)

	w := performJSON(srv.CreateUser, http.MethodPost, "/users/", `{"username":"alice","email":"a@example.com"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	u, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestCreateUserDuplicateIsConflict(t *testing.T) {
	srv, _ := newTestAPI(t)

	w := performJSON(srv.CreateUser, http.MethodPost, "/users/", `{"username":"alice"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = performJSON(srv.CreateUser, http.MethodPost, "/users/", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(usererr.UserExists))
}

func TestCreateUserRejectsInvalidName(t *testing.T) {
	srv, _ := newTestAPI(t)

	w := performJSON(srv.CreateUser, http.MethodPost, "/users/", `{"username":"no/slashes"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFriendsRequiresLogin(t *testing.T) {
	srv, _ := newTestAPI(t)

	w := performJSON(srv.ListFriends, http.MethodGet, "/friends/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(usererr.LoginRequired))
}

func TestRespondErrShapesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondErr(c, usererr.Wrap(usererr.S3, assertAnError{}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// Internal kinds surface only their code, never the cause.
	assert.Contains(t, w.Body.String(), `"S3"`)
	assert.NotContains(t, w.Body.String(), "underlying blob failure")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "underlying blob failure" }
