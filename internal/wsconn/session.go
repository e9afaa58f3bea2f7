// Package wsconn implements the Session Handler: one instance per
// connected client, bridging the WebSocket frame stream to Topology
// commands.
package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// state is the INIT/REGISTERED/BROKEN/GONE state machine.
type state int

const (
	stateInit state = iota
	stateRegistered
	stateBroken
	stateGone
)

// wsConn is the subset of *websocket.Conn the Session needs; narrowed
// for testability.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Dispatcher receives decoded inbound frames; Server implements it. The
// handle is passed back on Removed/Broken so a reconnect under the same
// id cannot be torn down by its predecessor's exit.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender model.ClientID, raw json.RawMessage)
	Registered(ctx context.Context, id model.ClientID, handle *Session)
	Removed(ctx context.Context, id model.ClientID, handle *Session)
	Broken(ctx context.Context, id model.ClientID, handle *Session)
}

// Session is one connected client's handler; it satisfies topology.Handle.
type Session struct {
	id   model.ClientID
	conn wsConn
	send chan []byte

	mu    sync.Mutex
	state state

	dispatcher Dispatcher
	closeOnce  sync.Once
	done       chan struct{}
}

// NewSession validates the client id (must begin with "_") and wraps
// an established connection; the caller is responsible for having already
// closed any prior session for the same id.
func NewSession(id model.ClientID, conn wsConn, dispatcher Dispatcher) (*Session, error) {
	if !strings.HasPrefix(string(id), "_") {
		return nil, usererr.New(usererr.InvalidClientID, "client id must begin with '_'")
	}
	return &Session{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		state:      stateInit,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}, nil
}

// Send implements topology.Handle: buffer a frame for the writePump. Never
// blocks the caller; if the buffer is full the slow client is disconnected
// rather than stalling the sender; delivery never blocks the router.
func (s *Session) Send(payload []byte) error {
	select {
	case s.send <- payload:
		return nil
	default:
		s.initiateClose()
		return usererr.New(usererr.ActorMessage, "client send buffer full, disconnecting")
	}
}

// Close implements topology.Handle: initiate a server-side close.
func (s *Session) Close() error {
	s.initiateClose()
	return nil
}

func (s *Session) initiateClose() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Run drives the connection until it closes, then tells the dispatcher.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	s.state = stateRegistered
	s.mu.Unlock()
	s.dispatcher.Registered(ctx, s.id, s)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.readPump(ctx) }()
	wg.Wait()

	s.mu.Lock()
	brokenExit := s.state == stateBroken
	s.state = stateGone
	s.mu.Unlock()

	if brokenExit {
		s.dispatcher.Broken(ctx, s.id, s)
	}
	s.dispatcher.Removed(ctx, s.id, s)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.initiateClose()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.mu.Lock()
			s.state = stateBroken
			s.mu.Unlock()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
			logging.Warn(ctx, "dropping unparseable frame", zap.String("client_id", string(s.id)))
			metrics.SessionEvents.WithLabelValues("unknown", "dropped").Inc()
			continue
		}

		if envelope.Type == "ping" {
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = s.Send(pong)
			metrics.SessionEvents.WithLabelValues("ping", "ok").Inc()
			continue
		}

		metrics.SessionEvents.WithLabelValues(envelope.Type, "dispatched").Inc()
		s.dispatcher.Dispatch(ctx, s.id, data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Upgrader is a thin wrapper so the api package doesn't import gorilla
// directly.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // overridden by callers per allowed-origins config
}
