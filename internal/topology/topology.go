// Package topology implements the Topology component: the single
// authoritative, process-local map from connected clients to the
// roles/projects they occupy. One mutex guards the maps; broadcasts are
// fired after the lock is released.
package topology

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/address"
	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/moderation"
)

// Handle is what Topology needs from a connected client's Session Handler:
// the ability to push a frame, and to be told to close (ClientCommand).
type Handle interface {
	Send(payload []byte) error
	Close() error
}

type clientRecord struct {
	handle   Handle
	username string
	state    *model.ClientState
}

// RoleRequest is returned by GetRoleRequest: it sends an out-of-band
// envelope to the first occupant of a role and parks a response slot
// keyed by a fresh uuid, with a bounded wait.
type RoleRequest struct {
	RequestID string
	Await     func(ctx context.Context, timeout time.Duration) (json.RawMessage, bool)
}

// ProjectMetadataReader is the minimal project lookup Topology needs to
// compose a RoomState broadcast; satisfied by store.MetadataStore.
type ProjectMetadataReader interface {
	GetProject(ctx context.Context, id model.ProjectID) (*model.ProjectMetadata, error)
}

// Topology is the single-writer authoritative network state.
type Topology struct {
	mu sync.Mutex

	clients  map[model.ClientID]*clientRecord
	rooms    map[model.ProjectID]map[model.RoleID][]model.ClientID
	external map[model.AppID]map[string]model.ClientID

	resolver *address.Resolver
	metadata ProjectMetadataReader

	// onRoomEmpty is invoked (outside the lock) whenever a project's room
	// transitions to zero occupants, letting the Lifecycle Manager apply
	// deletion/delete_at rules.
	onRoomEmpty func(ctx context.Context, projectID model.ProjectID)

	// onFirstOccupant is invoked (outside the lock) whenever a project's
	// room transitions from unoccupied to occupied, letting the Lifecycle
	// Manager transition Created/Broken -> Transient.
	onFirstOccupant func(ctx context.Context, projectID model.ProjectID)

	pending   map[string]chan json.RawMessage
	pendingMu sync.Mutex
}

func New(resolver *address.Resolver, metadata ProjectMetadataReader) *Topology {
	return &Topology{
		clients:  make(map[model.ClientID]*clientRecord),
		rooms:    make(map[model.ProjectID]map[model.RoleID][]model.ClientID),
		external: make(map[model.AppID]map[string]model.ClientID),
		resolver: resolver,
		metadata: metadata,
		pending:  make(map[string]chan json.RawMessage),
	}
}

func (t *Topology) SetOnRoomEmpty(f func(ctx context.Context, projectID model.ProjectID)) {
	t.onRoomEmpty = f
}

func (t *Topology) SetOnFirstOccupant(f func(ctx context.Context, projectID model.ProjectID)) {
	t.onFirstOccupant = f
}

// AddClient inserts an empty client record; no broadcast.
func (t *Topology) AddClient(id model.ClientID, handle Handle) {
	t.mu.Lock()
	t.clients[id] = &clientRecord{handle: handle}
	t.mu.Unlock()
	metrics.IncSession()
}

// RemoveClient purges the client from rooms/external and, if its room
// still has occupants, broadcasts the updated room-state.
func (t *Topology) RemoveClient(ctx context.Context, id model.ClientID) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	var emptiedProject *model.ProjectID
	var affectedProject *model.ProjectID
	if rec.state != nil {
		if b := rec.state.Browser; b != nil {
			t.removeFromRoom(id, b.ProjectID, b.RoleID)
			pid := b.ProjectID
			affectedProject = &pid
			if t.roomEmpty(b.ProjectID) {
				delete(t.rooms, b.ProjectID)
				emptiedProject = &pid
			}
		}
		if e := rec.state.External; e != nil {
			if m := t.external[e.AppID]; m != nil {
				delete(m, e.Address)
			}
		}
	}
	delete(t.clients, id)
	t.mu.Unlock()

	metrics.DecSession()
	if affectedProject != nil && emptiedProject == nil {
		t.broadcastRoomState(ctx, *affectedProject)
	}
	if emptiedProject != nil && t.onRoomEmpty != nil {
		t.onRoomEmpty(ctx, *emptiedProject)
	}
}

// SetState moves a client into a browser or external slot and records its
// username; triggers a room-state broadcast for browser targets.
func (t *Topology) SetState(ctx context.Context, id model.ClientID, state model.ClientState, username string) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	// Leave any prior slot first — a ClientId occupies at most one
	// (project, role) at a time.
	var leftProject *model.ProjectID
	if rec.state != nil {
		if b := rec.state.Browser; b != nil {
			t.removeFromRoom(id, b.ProjectID, b.RoleID)
			if t.roomEmpty(b.ProjectID) {
				delete(t.rooms, b.ProjectID)
				pid := b.ProjectID
				leftProject = &pid
			}
		}
		if e := rec.state.External; e != nil {
			if m := t.external[e.AppID]; m != nil {
				delete(m, e.Address)
			}
		}
	}

	st := state
	rec.state = &st
	if username != "" {
		rec.username = username
	}

	var broadcastProject *model.ProjectID
	var firstOccupant *model.ProjectID
	if b := state.Browser; b != nil {
		wasEmpty := t.roomEmpty(b.ProjectID)
		if t.rooms[b.ProjectID] == nil {
			t.rooms[b.ProjectID] = make(map[model.RoleID][]model.ClientID)
		}
		t.rooms[b.ProjectID][b.RoleID] = append(t.rooms[b.ProjectID][b.RoleID], id)
		pid := b.ProjectID
		broadcastProject = &pid
		if wasEmpty {
			firstOccupant = &pid
		}
	}
	if e := state.External; e != nil {
		if t.external[e.AppID] == nil {
			t.external[e.AppID] = make(map[string]model.ClientID)
		}
		t.external[e.AppID][e.Address] = id
	}
	t.mu.Unlock()

	// The leaver's next state staying within the same project is not a
	// departure; only fire the empty-room hook when it actually moved on.
	if leftProject != nil && (broadcastProject == nil || *broadcastProject != *leftProject) {
		if t.onRoomEmpty != nil {
			t.onRoomEmpty(ctx, *leftProject)
		}
	}
	if firstOccupant != nil && t.onFirstOccupant != nil {
		t.onFirstOccupant(ctx, *firstOccupant)
	}
	if broadcastProject != nil {
		t.broadcastRoomState(ctx, *broadcastProject)
	}
}

// ClientState returns the client's current state, if any.
func (t *Topology) ClientState(id model.ClientID) (model.ClientState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.clients[id]
	if !ok || rec.state == nil {
		return model.ClientState{}, false
	}
	return *rec.state, true
}

// ExternalClient resolves an external-namespace address to a ClientId.
func (t *Topology) ExternalClient(appID model.AppID, addr string) (model.ClientID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.external[appID]
	if m == nil {
		return "", false
	}
	id, ok := m[addr]
	return id, ok
}

// RoomOccupants returns the live occupant ClientIds of one role, used by
// the Router to resolve browser addresses to concrete targets.
func (t *Topology) RoomOccupants(projectID model.ProjectID, roleID model.RoleID) []model.ClientID {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[projectID]
	if room == nil {
		return nil
	}
	out := make([]model.ClientID, len(room[roleID]))
	copy(out, room[roleID])
	return out
}

// RoomSummary is one row of the admin room listing (GET /network/).
type RoomSummary struct {
	ProjectID model.ProjectID
	Roles     map[model.RoleID][]model.ClientID
}

// ListRooms returns a snapshot of every currently-occupied room, for the
// admin-only GET /network/ listing.
func (t *Topology) ListRooms() []RoomSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RoomSummary, 0, len(t.rooms))
	for pid, roles := range t.rooms {
		copied := make(map[model.RoleID][]model.ClientID, len(roles))
		for rid, occupants := range roles {
			copied[rid] = append([]model.ClientID(nil), occupants...)
		}
		out = append(out, RoomSummary{ProjectID: pid, Roles: copied})
	}
	return out
}

// ExternalClientSummary is one row of the admin external-client listing.
type ExternalClientSummary struct {
	AppID   model.AppID
	Address string
	ID      model.ClientID
}

// ListExternalClients returns every client currently registered under an
// external namespace, for GET /network/external.
func (t *Topology) ListExternalClients() []ExternalClientSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ExternalClientSummary
	for appID, addrs := range t.external {
		for addr, id := range addrs {
			out = append(out, ExternalClientSummary{AppID: appID, Address: addr, ID: id})
		}
	}
	return out
}

// ListClients returns every connected ClientId and its username, if any,
// for the admin-only GET /network/clients listing (ListClients
// witness).
func (t *Topology) ListClients() map[model.ClientID]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.ClientID]string, len(t.clients))
	for id, rec := range t.clients {
		out[id] = rec.username
	}
	return out
}

// Send delivers a raw frame to one client if still connected. Never
// blocks on network I/O beyond the handle's own buffering.
func (t *Topology) Send(id model.ClientID, payload []byte) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	if err := rec.handle.Send(payload); err != nil {
		logging.Warn(context.Background(), "dropping delivery to disconnected client", zap.String("client_id", string(id)), zap.Error(err))
	}
}

// GetRoleRequest asks the first occupant of (projectID, roleID) for its
// live, unsaved RoleData: it sends an out-of-band "role-data-request"
// envelope carrying a fresh request id and parks a response channel keyed
// by that id. The second return value is false if the role has no
// occupant to ask.
func (t *Topology) GetRoleRequest(projectID model.ProjectID, roleID model.RoleID) (*RoleRequest, bool) {
	occupants := t.RoomOccupants(projectID, roleID)
	if len(occupants) == 0 {
		return nil, false
	}
	target := occupants[0]

	reqID := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	t.pendingMu.Lock()
	t.pending[reqID] = ch
	t.pendingMu.Unlock()

	payload, _ := json.Marshal(map[string]string{
		"type":      "role-data-request",
		"requestId": reqID,
		"roleId":    string(roleID),
	})
	t.Send(target, payload)

	return &RoleRequest{
		RequestID: reqID,
		Await: func(ctx context.Context, timeout time.Duration) (json.RawMessage, bool) {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case data := <-ch:
				return data, true
			case <-ctx.Done():
				t.abandonRoleRequest(reqID)
				return nil, false
			case <-timer.C:
				t.abandonRoleRequest(reqID)
				return nil, false
			}
		},
	}, true
}

// ResolveRoleRequest delivers data to a parked GetRoleRequest, as driven by
// the occupant's follow-up POST of its live role contents. Returns false if
// the request id is unknown or already resolved/timed out.
func (t *Topology) ResolveRoleRequest(requestID string, data json.RawMessage) bool {
	t.pendingMu.Lock()
	ch, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- data
	return true
}

func (t *Topology) abandonRoleRequest(requestID string) {
	t.pendingMu.Lock()
	delete(t.pending, requestID)
	t.pendingMu.Unlock()
}

// SetBrokenClient transitions a Transient project to Broken when its
// client's connection goes bad mid-session (open question: the
// storage-update result is deliberately not surfaced to the caller).
func (t *Topology) SetBrokenClient(ctx context.Context, id model.ClientID, markBroken func(ctx context.Context, projectID model.ProjectID) error) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	var pid model.ProjectID
	hasProject := false
	if ok && rec.state != nil && rec.state.Browser != nil {
		pid = rec.state.Browser.ProjectID
		hasProject = true
	}
	t.mu.Unlock()
	if !hasProject {
		return
	}
	if err := markBroken(ctx, pid); err != nil {
		logging.Warn(ctx, "set_broken_client storage update failed, ignoring", zap.String("project_id", string(pid)), zap.Error(err))
	}
}

// Evict clears a client's state and notifies it, then re-broadcasts.
func (t *Topology) Evict(ctx context.Context, id model.ClientID) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	var broadcastProject *model.ProjectID
	if rec.state != nil {
		if b := rec.state.Browser; b != nil {
			t.removeFromRoom(id, b.ProjectID, b.RoleID)
			pid := b.ProjectID
			broadcastProject = &pid
		}
		if e := rec.state.External; e != nil {
			if m := t.external[e.AppID]; m != nil {
				delete(m, e.Address)
			}
		}
	}
	rec.state = nil
	handle := rec.handle
	t.mu.Unlock()

	notice, _ := json.Marshal(map[string]string{"type": "eviction-notice"})
	if err := handle.Send(notice); err != nil {
		logging.Warn(ctx, "eviction notice delivery failed", zap.Error(err))
	}
	if broadcastProject != nil {
		t.broadcastRoomState(ctx, *broadcastProject)
	}
}

// Disconnect asks the session handler to close the connection.
func (t *Topology) Disconnect(id model.ClientID) {
	t.mu.Lock()
	rec, ok := t.clients[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	_ = rec.handle.Close()
}

// SendRoomState computes the RoomState for a project and pushes it to
// every occupant, then invalidates the resolver cache for this project
//.
func (t *Topology) SendRoomState(ctx context.Context, proj *model.ProjectMetadata) {
	state := t.buildRoomState(proj)
	payload, err := json.Marshal(withType(state, "room-roles"))
	if err != nil {
		logging.Error(ctx, "failed to marshal room state", zap.Error(err))
		return
	}

	t.mu.Lock()
	room := t.rooms[proj.ID]
	var targets []model.ClientID
	for _, occupants := range room {
		targets = append(targets, occupants...)
	}
	handles := make([]Handle, 0, len(targets))
	for _, id := range targets {
		if rec, ok := t.clients[id]; ok {
			handles = append(handles, rec.handle)
		}
	}
	t.mu.Unlock()

	for _, h := range handles {
		if err := h.Send(payload); err != nil {
			logging.Warn(ctx, "room state delivery failed", zap.Error(err))
		}
	}
	if t.resolver != nil {
		t.resolver.InvalidateProject(proj.ID)
	}
}

func (t *Topology) broadcastRoomState(ctx context.Context, projectID model.ProjectID) {
	if t.metadata == nil {
		return
	}
	proj, err := t.metadata.GetProject(ctx, projectID)
	if err != nil {
		return
	}
	t.SendRoomState(ctx, proj)
}

func (t *Topology) buildRoomState(proj *model.ProjectMetadata) model.RoomState {
	t.mu.Lock()
	room := t.rooms[proj.ID]
	roles := make(map[model.RoleID]model.RoomRole, len(proj.Roles))
	for rid, role := range proj.Roles {
		var occupants []model.Occupant
		for _, cid := range room[rid] {
			rec := t.clients[cid]
			name := ""
			if rec != nil {
				// Usernames are echoed to every occupant; strip any markup
				// before they leave the server.
				name = moderation.SanitizeDisplayName(rec.username)
			}
			occupants = append(occupants, model.Occupant{ID: cid, Name: name})
		}
		roles[rid] = model.RoomRole{Name: role.Name, Occupants: occupants}
	}
	t.mu.Unlock()

	return model.RoomState{
		ID:            proj.ID,
		Owner:         proj.Owner,
		Name:          proj.Name,
		Collaborators: proj.Collaborators,
		Roles:         roles,
		Version:       time.Now().Unix(),
	}
}

// SendOccupantInvite pushes a room-invitation to every connected client
// whose username matches recipient.
func (t *Topology) SendOccupantInvite(ctx context.Context, recipient string, content any) {
	t.pushToUsername(ctx, recipient, "room-invitation", content)
}

func (t *Topology) SendCollabInviteChange(ctx context.Context, recipient string, change string, content any) {
	t.pushToUsername(ctx, recipient, "collaboration-invitation", map[string]any{"change": change, "content": content})
}

func (t *Topology) SendFriendRequestChange(ctx context.Context, recipient string, change string, content any) {
	t.pushToUsername(ctx, recipient, "friend-request", map[string]any{"change": change, "content": content})
}

// SendProjectDeleted pushes a project-deleted notice to every remaining
// occupant of a project's room (deletion cascade).
func (t *Topology) SendProjectDeleted(ctx context.Context, projectID model.ProjectID, project any) {
	payload, err := json.Marshal(withType(map[string]any{"project": project}, "project-deleted"))
	if err != nil {
		logging.Error(ctx, "failed to marshal project-deleted", zap.Error(err))
		return
	}
	t.mu.Lock()
	room := t.rooms[projectID]
	var handles []Handle
	for _, occupants := range room {
		for _, id := range occupants {
			if rec, ok := t.clients[id]; ok {
				handles = append(handles, rec.handle)
			}
		}
	}
	t.mu.Unlock()
	for _, h := range handles {
		_ = h.Send(payload)
	}
}

// SendIDEMessage pushes a server-stamped ide-message to each listed client.
func (t *Topology) SendIDEMessage(ctx context.Context, recipients []model.ClientID, payload []byte) {
	t.mu.Lock()
	var handles []Handle
	for _, id := range recipients {
		if rec, ok := t.clients[id]; ok {
			handles = append(handles, rec.handle)
		}
	}
	t.mu.Unlock()
	for _, h := range handles {
		if err := h.Send(payload); err != nil {
			logging.Warn(ctx, "ide-message delivery failed", zap.Error(err))
		}
	}
}

func (t *Topology) pushToUsername(ctx context.Context, username string, msgType string, content any) {
	payload, err := json.Marshal(withType(content, msgType))
	if err != nil {
		logging.Error(ctx, "failed to marshal push", zap.String("type", msgType), zap.Error(err))
		return
	}
	t.mu.Lock()
	var handles []Handle
	for _, rec := range t.clients {
		if rec.username == username {
			handles = append(handles, rec.handle)
		}
	}
	t.mu.Unlock()
	for _, h := range handles {
		_ = h.Send(payload)
	}
}

func withType(v any, typ string) map[string]any {
	data, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if m == nil {
		m = make(map[string]any)
	}
	m["type"] = typ
	return m
}

func (t *Topology) removeFromRoom(id model.ClientID, projectID model.ProjectID, roleID model.RoleID) {
	room := t.rooms[projectID]
	if room == nil {
		return
	}
	occupants := room[roleID]
	for i, oid := range occupants {
		if oid == id {
			room[roleID] = append(occupants[:i], occupants[i+1:]...)
			break
		}
	}
	if len(room[roleID]) == 0 {
		delete(room, roleID)
	}
}

func (t *Topology) roomEmpty(projectID model.ProjectID) bool {
	room := t.rooms[projectID]
	for _, occupants := range room {
		if len(occupants) > 0 {
			return false
		}
	}
	return true
}
