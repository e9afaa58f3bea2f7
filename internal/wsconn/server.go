package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/topology"
)

// TopologyOps is the subset of topology.Topology the connect handler needs.
type TopologyOps interface {
	AddClient(id model.ClientID, handle topology.Handle)
	RemoveClient(ctx context.Context, id model.ClientID)
	SetBrokenClient(ctx context.Context, id model.ClientID, markBroken func(ctx context.Context, projectID model.ProjectID) error)
}

// RouterOps is the subset of router.Router the dispatcher needs.
type RouterOps interface {
	Send(ctx context.Context, sender model.ClientID, addresses []string, content json.RawMessage)
	SendIDE(ctx context.Context, sender model.ClientID, recipients []model.ClientID, content json.RawMessage)
}

// Server accepts WebSocket upgrades at GET /network/clients/{clientId}/connect
// and wires each Session into Topology/Router. It tracks live
// sessions by ClientId so a reconnect under the same id can close the
// prior one first (boundary behavior).
type Server struct {
	topology TopologyOps
	router   RouterOps
	markBroken func(ctx context.Context, projectID model.ProjectID) error

	mu       sync.RWMutex
	sessions map[model.ClientID]*Session
}

func NewServer(topology TopologyOps, router RouterOps, markBroken func(ctx context.Context, projectID model.ProjectID) error) *Server {
	return &Server{
		topology:   topology,
		router:     router,
		markBroken: markBroken,
		sessions:   make(map[model.ClientID]*Session),
	}
}

// Connect upgrades the request and runs the session to completion. It
// blocks until the connection closes; callers run it in a goroutine.
func (s *Server) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string) error {
	id := model.ClientID(clientID)
	if !strings.HasPrefix(clientID, "_") {
		http.Error(w, "client id must begin with '_'", http.StatusBadRequest)
		return nil
	}

	// If already connected, the prior session is closed first.
	s.mu.Lock()
	if prior, ok := s.sessions[id]; ok {
		prior.Close()
	}
	s.mu.Unlock()

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	session, err := NewSession(id, conn, s)
	if err != nil {
		conn.Close()
		return err
	}

	session.Run(ctx)
	return nil
}

func (s *Server) Registered(ctx context.Context, id model.ClientID, handle *Session) {
	s.mu.Lock()
	s.sessions[id] = handle
	s.mu.Unlock()
	s.topology.AddClient(id, handle)
}

func (s *Server) Removed(ctx context.Context, id model.ClientID, handle *Session) {
	s.mu.Lock()
	current := s.sessions[id] == handle
	if current {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	// A session superseded by a reconnect under the same id must not tear
	// down its successor's registration.
	if current {
		s.topology.RemoveClient(ctx, id)
	}
}

func (s *Server) Broken(ctx context.Context, id model.ClientID, handle *Session) {
	s.mu.RLock()
	current := s.sessions[id] == handle
	s.mu.RUnlock()
	if current {
		s.topology.SetBrokenClient(ctx, id, s.markBroken)
	}
}

// Dispatch routes the message and ide-message wire kinds (ping is
// answered by the Session before dispatch). Unrecognized types are
// logged and dropped.
func (s *Server) Dispatch(ctx context.Context, sender model.ClientID, raw json.RawMessage) {
	var envelope struct {
		Type       string          `json:"type"`
		DstID      json.RawMessage `json:"dstId"`
		Recipients []model.ClientID `json:"recipients"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logging.Warn(ctx, "dropping malformed frame", zap.String("client_id", string(sender)))
		return
	}

	switch envelope.Type {
	case "message":
		addrs := parseDstID(envelope.DstID)
		s.router.Send(ctx, sender, addrs, raw)
	case "ide-message":
		s.router.SendIDE(ctx, sender, envelope.Recipients, raw)
	default:
		logging.Warn(ctx, "dropping unrecognized frame type", zap.String("type", envelope.Type), zap.String("client_id", string(sender)))
	}
}

// parseDstID accepts either a single address string or an array of them.
func parseDstID(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}
