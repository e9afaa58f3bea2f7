package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

const oauthTokenTTL = 24 * time.Hour

// RegisterOAuthClient handles POST /oauth/clients.
func (s *Server) RegisterOAuthClient(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	var body struct {
		Name        string `json:"name"`
		RedirectURI string `json:"redirectUri"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed client registration"))
		return
	}
	id, secret, err := s.OAuth.Register(c.Request.Context(), me, body.Name, body.RedirectURI)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "secret": secret})
}

// RevokeOAuthClient handles DELETE /oauth/clients/{id}.
func (s *Server) RevokeOAuthClient(c *gin.Context) {
	if err := s.OAuth.Revoke(c.Request.Context(), model.OAuthClientID(c.Param("id"))); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// IssueOAuthToken handles POST /oauth/token.
func (s *Server) IssueOAuthToken(c *gin.Context) {
	var body struct {
		ClientID string `json:"clientId"`
		Secret   string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed token request"))
		return
	}
	token, exp, err := s.OAuth.IssueToken(c.Request.Context(), model.OAuthClientID(body.ClientID), body.Secret, oauthTokenTTL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp})
}
