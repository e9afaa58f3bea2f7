package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity is the result of identity extraction: given an HTTP request,
// an optional username (from signed cookie or bearer token) and an
// optional authorized-host id (from a header).
type Identity struct {
	Username        string
	AuthorizedHost  string
	ClientIDPresented string // external guest access: a client id whose name may match project.owner
}

func (i Identity) HasUser() bool          { return i.Username != "" }
func (i Identity) IsAuthorizedHost() bool { return i.AuthorizedHost != "" }

const (
	sessionCookieName  = "netsblox_session"
	authorizedHostHdr  = "X-Authorized-Host-Id"
)

// Extractor pulls an Identity out of a gin request. cookieValidator turns
// the session cookie's value into a username (e.g. a signed-cookie store
// or a session-token lookup); tokenValidator validates the bearer
// Authorization header for OAuth clients.
type Extractor struct {
	cookieValidator func(ctx context.Context, cookieValue string) (username string, ok bool)
	tokenValidator  TokenValidator
	hostHeader      string
	authorizedHosts map[string]bool
}

func NewExtractor(cookieValidator func(ctx context.Context, cookieValue string) (string, bool), tokenValidator TokenValidator, hostHeader string, authorizedHosts []string) *Extractor {
	hosts := make(map[string]bool, len(authorizedHosts))
	for _, h := range authorizedHosts {
		hosts[h] = true
	}
	if hostHeader == "" {
		hostHeader = authorizedHostHdr
	}
	return &Extractor{
		cookieValidator: cookieValidator,
		tokenValidator:  tokenValidator,
		hostHeader:      hostHeader,
		authorizedHosts: hosts,
	}
}

// Extract implements the identity-extraction contract.
func (e *Extractor) Extract(r *http.Request) Identity {
	var id Identity

	if hostID := r.Header.Get(e.hostHeader); hostID != "" && e.authorizedHosts[hostID] {
		id.AuthorizedHost = hostID
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && e.cookieValidator != nil {
		if username, ok := e.cookieValidator(r.Context(), cookie.Value); ok {
			id.Username = username
		}
	}

	if id.Username == "" {
		if bearer := bearerToken(r); bearer != "" && e.tokenValidator != nil {
			if claims, err := e.tokenValidator.ValidateToken(bearer); err == nil {
				id.Username = claims.Subject
			}
		}
	}

	id.ClientIDPresented = r.Header.Get("X-Client-Id")
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

const identityContextKey = "auth.identity"

// Middleware stashes the extracted Identity on the gin context for
// handlers and the witness try_* functions to read.
func (e *Extractor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := e.Extract(c.Request)
		c.Set(identityContextKey, id)
		if id.Username != "" {
			c.Set("username", id.Username)
		}
		c.Next()
	}
}

// FromGin reads the Identity stashed by Middleware.
func FromGin(c *gin.Context) Identity {
	if v, ok := c.Get(identityContextKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}
