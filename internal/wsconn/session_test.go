package wsconn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/model"
)

// fakeConn scripts a sequence of inbound frames, then returns finalErr.
// With waitForWrite set it holds the final read until at least one frame
// has been written, so tests can assert on replies deterministically.
type fakeConn struct {
	mu           sync.Mutex
	inbound      [][]byte
	idx          int
	writes       [][]byte
	finalErr     error
	waitForWrite bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if c.idx < len(c.inbound) {
		f := c.inbound[c.idx]
		c.idx++
		c.mu.Unlock()
		return websocket.TextMessage, f, nil
	}
	wait := c.waitForWrite
	c.mu.Unlock()

	if wait {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			c.mu.Lock()
			n := len(c.writes)
			c.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
	return 0, nil, c.finalErr
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	registered []model.ClientID
	removed    []model.ClientID
	broken     []model.ClientID
	dispatched []json.RawMessage
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ model.ClientID, raw json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, raw)
}

func (d *fakeDispatcher) Registered(_ context.Context, id model.ClientID, _ *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered = append(d.registered, id)
}

func (d *fakeDispatcher) Removed(_ context.Context, id model.ClientID, _ *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, id)
}

func (d *fakeDispatcher) Broken(_ context.Context, id model.ClientID, _ *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broken = append(d.broken, id)
}

func normalClose() error {
	return &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func TestNewSessionRejectsInvalidClientID(t *testing.T) {
	_, err := NewSession("c1", &fakeConn{}, &fakeDispatcher{})
	assert.Error(t, err)
}

func TestNormalCloseIsNotBroken(t *testing.T) {
	conn := &fakeConn{finalErr: normalClose()}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	assert.Equal(t, []model.ClientID{"_c1"}, d.registered)
	assert.Equal(t, []model.ClientID{"_c1"}, d.removed)
	assert.Empty(t, d.broken)
}

func TestGoingAwayIsNotBroken(t *testing.T) {
	conn := &fakeConn{finalErr: &websocket.CloseError{Code: websocket.CloseGoingAway}}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	assert.Empty(t, d.broken)
	assert.Equal(t, []model.ClientID{"_c1"}, d.removed)
}

func TestAbnormalCloseDispatchesBrokenThenRemoved(t *testing.T) {
	conn := &fakeConn{finalErr: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	assert.Equal(t, []model.ClientID{"_c1"}, d.broken)
	assert.Equal(t, []model.ClientID{"_c1"}, d.removed)
}

func TestPingAnsweredInline(t *testing.T) {
	conn := &fakeConn{
		inbound:      [][]byte{[]byte(`{"type":"ping"}`)},
		finalErr:     normalClose(),
		waitForWrite: true,
	}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	writes := conn.written()
	require.NotEmpty(t, writes)
	assert.JSONEq(t, `{"type":"pong"}`, string(writes[0]))
	// ping is handled at the session layer, never dispatched.
	assert.Empty(t, d.dispatched)
}

func TestRecognizedFramesAreDispatched(t *testing.T) {
	frame := []byte(`{"type":"message","dstId":"r1@proj@alice","foo":1}`)
	conn := &fakeConn{inbound: [][]byte{frame}, finalErr: normalClose()}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	require.Len(t, d.dispatched, 1)
	assert.JSONEq(t, string(frame), string(d.dispatched[0]))
}

func TestUnparseableFramesAreDropped(t *testing.T) {
	conn := &fakeConn{
		inbound:  [][]byte{[]byte(`not json`), []byte(`{"no":"type"}`)},
		finalErr: normalClose(),
	}
	d := &fakeDispatcher{}
	s, err := NewSession("_c1", conn, d)
	require.NoError(t, err)

	s.Run(context.Background())

	assert.Empty(t, d.dispatched)
}

func TestSendBufferFullDisconnectsSlowClient(t *testing.T) {
	s, err := NewSession("_c1", &fakeConn{}, &fakeDispatcher{})
	require.NoError(t, err)

	// Without a running writePump nothing drains the buffer.
	var sendErr error
	for i := 0; i <= sendBuffer; i++ {
		sendErr = s.Send([]byte(`{}`))
	}
	assert.Error(t, sendErr)

	select {
	case <-s.done:
	default:
		t.Fatal("session was not closed after buffer overflow")
	}
}
