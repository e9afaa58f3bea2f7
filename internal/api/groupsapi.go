package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

// GetGroupOwner handles GET /groups/id/{id}/owner.
func (s *Server) GetGroupOwner(c *gin.Context) {
	owner, err := s.Groups.Owner(c.Request.Context(), model.GroupID(c.Param("id")))
	if err != nil {
		respondErr(c, usererr.New(usererr.UserNotFound, "group not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner})
}

// GetGroupMembers handles GET /groups/id/{id}/members.
func (s *Server) GetGroupMembers(c *gin.Context) {
	members, err := s.Groups.Members(c.Request.Context(), model.GroupID(c.Param("id")))
	if err != nil {
		respondErr(c, usererr.New(usererr.UserNotFound, "group not found"))
		return
	}
	c.JSON(http.StatusOK, members)
}

// ListOwnedGroups handles GET /groups/owned/{owner}.
func (s *Server) ListOwnedGroups(c *gin.Context) {
	list, err := s.Groups.GroupsOwnedBy(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondErr(c, usererr.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, list)
}
