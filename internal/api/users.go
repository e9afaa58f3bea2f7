package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/moderation"
	"github.com/netsblox/cloud/internal/usererr"
)

const sessionCookieName = "netsblox_session"

// CreateUser handles POST /users/: self-registration, or admin-created
// accounts when the caller is already authenticated as an admin.
func (s *Server) CreateUser(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidUsername, "malformed user"))
		return
	}
	if !moderation.ValidName(body.Username) {
		respondErr(c, usererr.New(usererr.InvalidUsername, "invalid username"))
		return
	}
	if _, err := s.Checker.TryCreateUser(c.Request.Context(), auth.FromGin(c), body.Username); err != nil {
		respondErr(c, err)
		return
	}
	if banned, err := s.Metadata.IsBanned(c.Request.Context(), body.Username); err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	} else if banned {
		respondErr(c, usererr.New(usererr.BannedUser, "this account has been banned"))
		return
	}
	u := model.User{Username: body.Username, Email: body.Email, Role: model.UserRoleUser, CreatedAt: time.Now()}
	if err := s.Metadata.CreateUser(c.Request.Context(), u); err != nil {
		respondErr(c, usererr.New(usererr.UserExists, "username already taken"))
		return
	}
	c.JSON(http.StatusOK, u)
}

// GetUser handles GET /users/{username}.
func (s *Server) GetUser(c *gin.Context) {
	target := c.Param("username")
	if _, err := s.Checker.TryViewUser(c.Request.Context(), auth.FromGin(c), target); err != nil {
		respondErr(c, err)
		return
	}
	u, err := s.Metadata.GetUser(c.Request.Context(), target)
	if err != nil {
		respondErr(c, usererr.New(usererr.UserNotFound, "user not found"))
		return
	}
	c.JSON(http.StatusOK, u)
}

// ListUsers handles GET /users/ (moderator/admin only).
func (s *Server) ListUsers(c *gin.Context) {
	if _, err := s.Checker.TryListUsers(c.Request.Context(), auth.FromGin(c)); err != nil {
		respondErr(c, err)
		return
	}
	list, err := s.Metadata.ListUsers(c.Request.Context())
	if err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, list)
}

// DeleteUser handles DELETE /users/{username}.
func (s *Server) DeleteUser(c *gin.Context) {
	target := c.Param("username")
	if _, err := s.Checker.TryEditUser(c.Request.Context(), auth.FromGin(c), target); err != nil {
		respondErr(c, err)
		return
	}
	if err := s.Metadata.DeleteUser(c.Request.Context(), target); err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// BanUser handles PATCH /users/{username}/ban.
func (s *Server) BanUser(c *gin.Context) {
	target := c.Param("username")
	if _, err := s.Checker.TryBanUser(c.Request.Context(), auth.FromGin(c), target); err != nil {
		respondErr(c, err)
		return
	}
	u, err := s.Metadata.GetUser(c.Request.Context(), target)
	if err != nil {
		respondErr(c, usererr.New(usererr.UserNotFound, "user not found"))
		return
	}
	if err := s.Metadata.BanUser(c.Request.Context(), model.BannedAccount{Username: u.Username, Email: u.Email, BannedAt: time.Now()}); err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// UnbanUser handles PATCH /users/{username}/unban.
func (s *Server) UnbanUser(c *gin.Context) {
	target := c.Param("username")
	if _, err := s.Checker.TryBanUser(c.Request.Context(), auth.FromGin(c), target); err != nil {
		respondErr(c, err)
		return
	}
	if err := s.Metadata.UnbanUser(c.Request.Context(), target); err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestPasswordToken handles POST /users/{username}/password/reset: mints
// and emails a magic link, usable by anyone since the link itself gates
// access.
func (s *Server) RequestPasswordToken(c *gin.Context) {
	target := c.Param("username")
	_ = s.Checker.TrySetPasswordToken(target)
	u, err := s.Metadata.GetUser(c.Request.Context(), target)
	if err != nil {
		// Do not reveal whether the account exists.
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.Magic.Issue(c.Request.Context(), u.Username, u.Email, s.magicLinkBaseURL); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConsumeMagicLink handles GET /auth/login/{token}: redeems a magic link
// and issues a session cookie in its place.
func (s *Server) ConsumeMagicLink(c *gin.Context) {
	username, err := s.Magic.Consume(c.Request.Context(), model.MagicLinkID(c.Param("token")))
	if err != nil {
		respondErr(c, err)
		return
	}
	token, exp, err := s.Session.Issue(username)
	if err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.SetCookie(sessionCookieName, token, int(time.Until(exp).Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// Logout handles POST /auth/logout.
func (s *Server) Logout(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", true, true)
	c.Status(http.StatusNoContent)
}

// Whoami handles GET /auth/whoami.
func (s *Server) Whoami(c *gin.Context) {
	id := auth.FromGin(c)
	if !id.HasUser() {
		respondErr(c, usererr.New(usererr.LoginRequired, "login required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": id.Username})
}
