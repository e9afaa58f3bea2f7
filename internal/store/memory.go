package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/usererr"
)

// MemoryStore is the in-memory reference MetadataStore. Production
// deployments swap in a real database client behind the same interface;
// choosing one is explicitly out of this core's scope.
type MemoryStore struct {
	mu sync.RWMutex

	users    map[string]model.User
	projects map[model.ProjectID]model.ProjectMetadata
	friends  map[friendKey]model.FriendLink
	invites  map[model.InvitationID]model.Invite
	banned   map[string]model.BannedAccount
	groups   map[model.GroupID]model.Group
	messages []model.SentMessage
	magic    map[model.MagicLinkID]magicEntry

	oauthClients map[model.OAuthClientID]model.OAuthClient
	oauthTokens  map[string]model.OAuthToken
}

type magicEntry struct {
	username string
	expires  time.Time
}

type friendKey struct{ a, b string }

func newFriendKey(a, b string) friendKey {
	if a > b {
		a, b = b, a
	}
	return friendKey{a, b}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]model.User),
		projects: make(map[model.ProjectID]model.ProjectMetadata),
		friends:  make(map[friendKey]model.FriendLink),
		invites:  make(map[model.InvitationID]model.Invite),
		banned:   make(map[string]model.BannedAccount),
		groups:   make(map[model.GroupID]model.Group),
		magic:    make(map[model.MagicLinkID]magicEntry),

		oauthClients: make(map[model.OAuthClientID]model.OAuthClient),
		oauthTokens:  make(map[string]model.OAuthToken),
	}
}

// Ping satisfies health.Pinger; an in-memory store is always reachable.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return usererr.New(usererr.UserExists, "username already taken")
	}
	s.users[u.Username] = u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, usererr.New(usererr.UserNotFound, "user not found")
	}
	return &u, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; !ok {
		return usererr.New(usererr.UserNotFound, "user not found")
	}
	s.users[u.Username] = u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// --- Projects ---

func (s *MemoryStore) CreateProject(_ context.Context, p model.ProjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id model.ProjectID) (*model.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, usererr.New(usererr.ProjectNotFound, "project not found")
	}
	return &p, nil
}

func (s *MemoryStore) GetProjectByName(_ context.Context, owner, name string) (*model.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.Owner == owner && p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, usererr.New(usererr.ProjectNotFound, "project not found")
}

func (s *MemoryStore) ListProjectsByOwner(_ context.Context, owner string) ([]model.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ProjectMetadata
	for _, p := range s.projects {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListProjectsSharedWith(_ context.Context, username string) ([]model.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ProjectMetadata
	for _, p := range s.projects {
		for _, c := range p.Collaborators {
			if c == username {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, p model.ProjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return usererr.New(usererr.ProjectNotFound, "project not found")
	}
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id model.ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) ListProjectsPendingDeletion(_ context.Context, before time.Time) ([]model.ProjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ProjectMetadata
	for _, p := range s.projects {
		if p.DeleteAt != nil && p.DeleteAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Trace messages ---

func (s *MemoryStore) RecordMessage(_ context.Context, m model.SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemoryStore) GetMessagesInWindow(_ context.Context, projectID model.ProjectID, start time.Time, end *time.Time) ([]model.SentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SentMessage
	for _, m := range s.messages {
		if m.ProjectID != projectID {
			continue
		}
		if m.Time.Before(start) {
			continue
		}
		if end != nil && m.Time.After(*end) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessagesBefore(_ context.Context, projectID model.ProjectID, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ProjectID == projectID && m.Time.Before(before) {
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return nil
}

// --- Friend links ---

func (s *MemoryStore) GetFriendLink(_ context.Context, a, b string) (*model.FriendLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.friends[newFriendKey(a, b)]
	if !ok {
		return nil, usererr.New(usererr.FriendNotFound, "no friend link")
	}
	return &link, nil
}

func (s *MemoryStore) UpsertFriendLink(_ context.Context, link model.FriendLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[newFriendKey(link.Sender, link.Recipient)] = link
	return nil
}

func (s *MemoryStore) DeleteFriendLink(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friends, newFriendKey(a, b))
	return nil
}

func (s *MemoryStore) ListFriendLinksForUser(_ context.Context, username string) ([]model.FriendLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FriendLink
	for _, l := range s.friends {
		if l.Sender == username || l.Recipient == username {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- Invites ---

func (s *MemoryStore) CreateInvite(_ context.Context, inv model.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.ID] = inv
	return nil
}

func (s *MemoryStore) GetInvite(_ context.Context, id model.InvitationID) (*model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[id]
	if !ok {
		return nil, usererr.New(usererr.InviteNotFound, "invite not found")
	}
	return &inv, nil
}

func (s *MemoryStore) ListInvitesForUser(_ context.Context, username string, kind model.InviteKind) ([]model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Invite
	for _, inv := range s.invites {
		if inv.Kind == kind && (inv.Recipient == username || inv.Sender == username) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateInviteState(_ context.Context, id model.InvitationID, state model.InviteState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return usererr.New(usererr.InviteNotFound, "invite not found")
	}
	inv.State = state
	s.invites[id] = inv
	return nil
}

func (s *MemoryStore) DeleteInvite(_ context.Context, id model.InvitationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invites, id)
	return nil
}

// --- Banned accounts ---

func (s *MemoryStore) BanUser(_ context.Context, b model.BannedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned[b.Username] = b // idempotent insert
	return nil
}

func (s *MemoryStore) UnbanUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, username)
	return nil
}

func (s *MemoryStore) IsBanned(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.banned[username]
	return ok, nil
}

// --- Groups ---

func (s *MemoryStore) GetGroup(_ context.Context, id model.GroupID) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, usererr.New(usererr.UserNotFound, "group not found")
	}
	return &g, nil
}

func (s *MemoryStore) GroupsOwnedBy(_ context.Context, username string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Group
	for _, g := range s.groups {
		if g.Owner == username {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryStore) GroupContaining(_ context.Context, username string) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		for _, m := range g.Members {
			if m == username {
				cp := g
				return &cp, nil
			}
		}
	}
	return nil, nil
}

// --- Magic links ---

func (s *MemoryStore) CreateMagicLink(_ context.Context, id model.MagicLinkID, username string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.magic[id] = magicEntry{username: username, expires: expiresAt}
	return nil
}

func (s *MemoryStore) ConsumeMagicLink(_ context.Context, id model.MagicLinkID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.magic[id]
	if !ok {
		return "", usererr.New(usererr.InviteNotFound, "magic link not found")
	}
	delete(s.magic, id) // single-use
	if time.Now().After(e.expires) {
		return "", usererr.New(usererr.InviteNotAllowed, "magic link expired")
	}
	return e.username, nil
}

// --- OAuth clients/tokens ---

func (s *MemoryStore) CreateOAuthClient(_ context.Context, c model.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthClients[c.ID] = c
	return nil
}

func (s *MemoryStore) GetOAuthClient(_ context.Context, id model.OAuthClientID) (*model.OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.oauthClients[id]
	if !ok {
		return nil, usererr.New(usererr.UserNotFound, "oauth client not found")
	}
	return &c, nil
}

func (s *MemoryStore) RevokeOAuthClient(_ context.Context, id model.OAuthClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.oauthClients[id]
	if !ok {
		return usererr.New(usererr.UserNotFound, "oauth client not found")
	}
	c.Revoked = true
	s.oauthClients[id] = c
	return nil
}

func (s *MemoryStore) CreateOAuthToken(_ context.Context, t model.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauthTokens[t.ID] = t
	return nil
}

func (s *MemoryStore) GetOAuthToken(_ context.Context, id string) (*model.OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.oauthTokens[id]
	if !ok {
		return nil, usererr.New(usererr.InviteNotFound, "oauth token not found")
	}
	return &t, nil
}

func (s *MemoryStore) RevokeOAuthToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.oauthTokens[id]
	if !ok {
		return usererr.New(usererr.InviteNotFound, "oauth token not found")
	}
	t.Revoked = true
	s.oauthTokens[id] = t
	return nil
}

func (s *MemoryStore) RevokeOAuthTokensForClient(_ context.Context, clientID model.OAuthClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.oauthTokens {
		if t.ClientID == clientID {
			t.Revoked = true
			s.oauthTokens[id] = t
		}
	}
	return nil
}

var _ MetadataStore = (*MemoryStore)(nil)
