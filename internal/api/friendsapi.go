package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

func (s *Server) requireSelf(c *gin.Context) (string, bool) {
	id := auth.FromGin(c)
	if !id.HasUser() {
		respondErr(c, usererr.New(usererr.LoginRequired, "login required"))
		return "", false
	}
	return id.Username, true
}

// SendFriendInvite handles POST /friends/{username}/invite.
func (s *Server) SendFriendInvite(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	if err := s.Friends.SendInvite(c.Request.Context(), me, c.Param("username")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RespondFriendInvite handles PATCH /friends/{username}/invite with body
// {"state": "Approved"|"Rejected"}; username is the invite's sender.
func (s *Server) RespondFriendInvite(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	var body struct {
		State model.InviteState `json:"state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed response"))
		return
	}
	if err := s.Friends.Respond(c.Request.Context(), me, c.Param("username"), body.State); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnfriendUser handles DELETE /friends/{username}.
func (s *Server) UnfriendUser(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	if err := s.Friends.Unfriend(c.Request.Context(), me, c.Param("username")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// BlockUser handles POST /friends/{username}/block.
func (s *Server) BlockUser(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	if err := s.Friends.Block(c.Request.Context(), me, c.Param("username")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnblockUser handles POST /friends/{username}/unblock.
func (s *Server) UnblockUser(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	if err := s.Friends.Unblock(c.Request.Context(), me, c.Param("username")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListFriendInvites handles GET /friends/invites.
func (s *Server) ListFriendInvites(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	list, err := s.Friends.ListInvites(c.Request.Context(), me)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListFriends handles GET /friends/.
func (s *Server) ListFriends(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	list, err := s.Friends.List(c.Request.Context(), me)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListOnlineFriends handles GET /friends/online.
func (s *Server) ListOnlineFriends(c *gin.Context) {
	id := auth.FromGin(c)
	if !id.HasUser() {
		respondErr(c, usererr.New(usererr.LoginRequired, "login required"))
		return
	}
	isAdmin := false
	if u, err := s.Metadata.GetUser(c.Request.Context(), id.Username); err == nil {
		isAdmin = u.Role == model.UserRoleAdmin
	}
	list, err := s.Friends.OnlineFriends(c.Request.Context(), id.Username, isAdmin)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// SendCollabInvite handles POST /projects/id/{id}/invitations.
func (s *Server) SendCollabInvite(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	var body struct {
		Target string `json:"target"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed invite"))
		return
	}
	ep, err := s.editProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	inv, err := s.Friends.SendCollabInvite(c.Request.Context(), *ep, me, body.Target)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// RespondCollabInvite handles PATCH /network/invites/collaboration/{id}.
func (s *Server) RespondCollabInvite(c *gin.Context) {
	var body struct {
		Approve bool `json:"approve"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed response"))
		return
	}
	inv, err := s.Friends.RespondCollabInvite(c.Request.Context(), model.InvitationID(c.Param("id")), body.Approve)
	if err != nil {
		respondErr(c, err)
		return
	}
	// On approval the recipient joins the collaborator list; the invite was
	// minted under the sender's edit permission, which is re-derived here.
	if body.Approve && inv.ProjectID != nil {
		ep, err := s.Checker.TryEditProject(c.Request.Context(), auth.Identity{Username: inv.Sender}, *inv.ProjectID)
		if err == nil {
			if _, err := s.Projects.AddCollaborator(c.Request.Context(), *ep, inv.Recipient); err != nil {
				respondErr(c, err)
				return
			}
		}
	}
	c.JSON(http.StatusOK, inv)
}

// ListOccupantInvites handles GET /network/invites/occupant.
func (s *Server) ListOccupantInvites(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	list, err := s.Friends.ListOccupantInvites(c.Request.Context(), me)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListCollabInvites handles GET /network/invites/collaboration.
func (s *Server) ListCollabInvites(c *gin.Context) {
	me, ok := s.requireSelf(c)
	if !ok {
		return
	}
	list, err := s.Friends.ListCollabInvites(c.Request.Context(), me)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
