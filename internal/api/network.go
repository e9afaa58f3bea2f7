package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

// SetClientState handles POST /network/clients/{clientId}/state.
func (s *Server) SetClientState(c *gin.Context) {
	clientID := model.ClientID(c.Param("clientId"))
	var body model.ClientState
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidClientID, "malformed client state"))
		return
	}
	s.Topology.SetState(c.Request.Context(), clientID, body, auth.FromGin(c).Username)
	c.Status(http.StatusNoContent)
}

// Connect handles GET /network/clients/{clientId}/connect, upgrading to a
// WebSocket and running the session loop for the lifetime of the
// connection.
func (s *Server) Connect(c *gin.Context) {
	clientID := c.Param("clientId")
	if err := s.WS.Connect(c.Request.Context(), c.Writer, c.Request, clientID); err != nil {
		respondErr(c, usererr.New(usererr.InvalidClientID, err.Error()))
	}
}

// ListRooms handles the admin-only GET /network/.
func (s *Server) ListRooms(c *gin.Context) {
	if _, err := s.Checker.TryListRooms(c.Request.Context(), auth.FromGin(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Topology.ListRooms())
}

// ListExternalClients handles the admin-only GET /network/external.
func (s *Server) ListExternalClients(c *gin.Context) {
	if _, err := s.Checker.TryListRooms(c.Request.Context(), auth.FromGin(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Topology.ListExternalClients())
}

// ListClients handles the admin-only GET /network/clients: the raw
// clientId -> username map, finer-grained than the room listing.
func (s *Server) ListClients(c *gin.Context) {
	if _, err := s.Checker.TryListClients(c.Request.Context(), auth.FromGin(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Topology.ListClients())
}

// InviteOccupant handles POST /network/id/{projectId}/occupants/invite.
func (s *Server) InviteOccupant(c *gin.Context) {
	var body struct {
		Sender string        `json:"sender"`
		Target string        `json:"target"`
		RoleID model.RoleID  `json:"roleId"`
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
	inv, err := s.Friends.SendOccupantInvite(c.Request.Context(), *ep, body.Sender, body.Target, body.RoleID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// EvictClient handles POST /network/clients/{clientId}/evict.
func (s *Server) EvictClient(c *gin.Context) {
	clientID := model.ClientID(c.Param("clientId"))
	if _, err := s.Checker.TryEvictClient(c.Request.Context(), auth.FromGin(c), clientID); err != nil {
		respondErr(c, err)
		return
	}
	s.Topology.Evict(c.Request.Context(), clientID)
	c.Status(http.StatusNoContent)
}

// StartTrace handles POST /network/id/{projectId}/trace/.
func (s *Server) StartTrace(c *gin.Context) {
	vp, err := s.viewProjectByID(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	tr, err := s.Trace.Start(c.Request.Context(), vp.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

// StopTrace handles POST /network/id/{projectId}/trace/{traceId}/stop.
func (s *Server) StopTrace(c *gin.Context) {
	if _, err := s.viewProjectByID(c); err != nil {
		respondErr(c, err)
		return
	}
	projectID := model.ProjectID(c.Param("projectId"))
	traceID := model.TraceID(c.Param("traceId"))
	if err := s.Trace.Stop(c.Request.Context(), projectID, traceID); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTraceMessages handles GET /network/id/{projectId}/trace/{traceId}/messages.
func (s *Server) GetTraceMessages(c *gin.Context) {
	if _, err := s.viewProjectByID(c); err != nil {
		respondErr(c, err)
		return
	}
	projectID := model.ProjectID(c.Param("projectId"))
	traceID := model.TraceID(c.Param("traceId"))
	msgs, err := s.Trace.Messages(c.Request.Context(), projectID, traceID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// DeleteTrace handles DELETE /network/id/{projectId}/trace/{traceId}.
func (s *Server) DeleteTrace(c *gin.Context) {
	if _, err := s.viewProjectByID(c); err != nil {
		respondErr(c, err)
		return
	}
	projectID := model.ProjectID(c.Param("projectId"))
	traceID := model.TraceID(c.Param("traceId"))
	if err := s.Trace.Delete(c.Request.Context(), projectID, traceID); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// InjectMessage handles POST /network/messages/: server-to-server message
// injection, restricted to identities presenting an authorized host id.
func (s *Server) InjectMessage(c *gin.Context) {
	if _, err := s.Checker.TrySendMessage(auth.FromGin(c)); err != nil {
		respondErr(c, err)
		return
	}
	var body struct {
		Sender     string          `json:"sender"`
		Recipients []string        `json:"recipients"`
		Content    json.RawMessage `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, usererr.New(usererr.InvalidName, "malformed message"))
		return
	}
	logging.Info(c.Request.Context(), "server-to-server message injected")
	s.Router.Send(c.Request.Context(), model.ClientID(body.Sender), body.Recipients, body.Content)
	c.Status(http.StatusNoContent)
}
