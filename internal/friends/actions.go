// Package friends implements Friend & Invite Actions: the
// friend-link state machine, collaboration/occupant invites, and the
// friends-list derivation with its LRU cache. Mutations update the
// store first, then push a notification through Topology.
package friends

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/presence"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

// Notifier is the subset of topology.Topology Friend Actions needs to push
// invite/friend-request changes.
type Notifier interface {
	SendOccupantInvite(ctx context.Context, recipient string, content any)
	SendCollabInviteChange(ctx context.Context, recipient string, change string, content any)
	SendFriendRequestChange(ctx context.Context, recipient string, change string, content any)
}

// GroupLookup is the minimal group-membership read surface the
// friends-list derivation needs.
type GroupLookup interface {
	GroupsOwnedBy(ctx context.Context, username string) ([]model.Group, error)
	GroupContaining(ctx context.Context, username string) (*model.Group, error)
}

// OnlineLister is the presence read surface online-friends filtering needs.
type OnlineLister interface {
	OnlineUsernames(ctx context.Context) ([]string, error)
}

const friendsCacheSize = 500

// Service implements the friend-link state machine and invite flows.
type Service struct {
	metadata store.MetadataStore
	notifier Notifier
	groups   GroupLookup
	online   OnlineLister
	checker  *auth.Checker

	cache *lru.Cache[string, []string]
}

func New(metadata store.MetadataStore, notifier Notifier, groups GroupLookup, online *presence.Service, checker *auth.Checker) *Service {
	c, _ := lru.New[string, []string](friendsCacheSize)
	return &Service{metadata: metadata, notifier: notifier, groups: groups, online: online, checker: checker, cache: c}
}

// SendInvite implements send_invite(a, b): both users must exist and
// be non-group-members; a pending b->a invite is approved atomically
// instead of creating a second one; otherwise an a->b Pending link is
// upserted (deduplicated on the unordered pair) and b is notified.
func (s *Service) SendInvite(ctx context.Context, a, b string) error {
	if err := s.requireNonGroupMember(ctx, a); err != nil {
		return err
	}
	if err := s.requireNonGroupMember(ctx, b); err != nil {
		return err
	}
	if _, err := s.metadata.GetUser(ctx, a); err != nil {
		return usererr.New(usererr.UserNotFound, "user not found")
	}
	if _, err := s.metadata.GetUser(ctx, b); err != nil {
		return usererr.New(usererr.UserNotFound, "user not found")
	}

	link, err := s.metadata.GetFriendLink(ctx, a, b)
	if err == nil && link != nil {
		switch {
		case link.State == model.InvitePending && link.Sender == b && link.Recipient == a:
			link.State = model.InviteApproved
			link.Updated = time.Now()
			if err := s.metadata.UpsertFriendLink(ctx, *link); err != nil {
				return usererr.DatabaseError(err)
			}
			s.invalidate(a, b)
			s.notifier.SendFriendRequestChange(ctx, b, "approved", link)
			return nil
		case link.State == model.InviteBlocked:
			return usererr.New(usererr.InviteNotAllowed, "blocked")
		case link.State == model.InvitePending && link.Sender == a && link.Recipient == b:
			return nil // already pending, idempotent
		case link.State == model.InviteApproved:
			return nil // already friends
		}
	}

	newLink := model.FriendLink{Sender: a, Recipient: b, State: model.InvitePending, Updated: time.Now()}
	if err := s.metadata.UpsertFriendLink(ctx, newLink); err != nil {
		return usererr.DatabaseError(err)
	}
	s.notifier.SendFriendRequestChange(ctx, b, "sent", newLink)
	return nil
}

// Respond implements respond(recipient, sender, state): only valid
// for a pending link from sender->recipient.
func (s *Service) Respond(ctx context.Context, recipient, sender string, state model.InviteState) error {
	if state != model.InviteApproved && state != model.InviteRejected {
		return usererr.New(usererr.InviteNotAllowed, "response must be approved or rejected")
	}
	link, err := s.metadata.GetFriendLink(ctx, sender, recipient)
	if err != nil || link == nil {
		return usererr.New(usererr.FriendNotFound, "no pending invite")
	}
	if link.State != model.InvitePending || link.Sender != sender || link.Recipient != recipient {
		return usererr.New(usererr.InviteNotAllowed, "no pending invite from sender to recipient")
	}

	if state == model.InviteRejected {
		if err := s.metadata.DeleteFriendLink(ctx, sender, recipient); err != nil {
			return usererr.DatabaseError(err)
		}
	} else {
		link.State = state
		link.Updated = time.Now()
		if err := s.metadata.UpsertFriendLink(ctx, *link); err != nil {
			return usererr.DatabaseError(err)
		}
	}
	s.invalidate(sender, recipient)
	s.notifier.SendFriendRequestChange(ctx, sender, strings.ToLower(string(state)), link)
	return nil
}

// Block implements block(a, b): upsert a Blocked a->b link,
// overwriting any prior state, and invalidate both cache entries.
func (s *Service) Block(ctx context.Context, a, b string) error {
	link := model.FriendLink{Sender: a, Recipient: b, State: model.InviteBlocked, Updated: time.Now()}
	if err := s.metadata.UpsertFriendLink(ctx, link); err != nil {
		return usererr.DatabaseError(err)
	}
	s.invalidate(a, b)
	return nil
}

// Unblock implements unblock(a, b): remove a Blocked a->b link;
// no-op if none exists.
func (s *Service) Unblock(ctx context.Context, a, b string) error {
	link, err := s.metadata.GetFriendLink(ctx, a, b)
	if err != nil || link == nil || link.State != model.InviteBlocked || link.Sender != a {
		return nil
	}
	if err := s.metadata.DeleteFriendLink(ctx, a, b); err != nil {
		return usererr.DatabaseError(err)
	}
	s.invalidate(a, b)
	return nil
}

// Unfriend implements unfriend(a, b): delete an Approved link
// regardless of direction.
func (s *Service) Unfriend(ctx context.Context, a, b string) error {
	link, err := s.metadata.GetFriendLink(ctx, a, b)
	if err != nil || link == nil || link.State != model.InviteApproved {
		return nil
	}
	if err := s.metadata.DeleteFriendLink(ctx, a, b); err != nil {
		return usererr.DatabaseError(err)
	}
	s.invalidate(a, b)
	return nil
}

// ListInvites returns every pending friend invite where username is the
// recipient (idempotence example: "list_invites(bob) returns exactly
// 1" after the same invite is sent twice).
func (s *Service) ListInvites(ctx context.Context, username string) ([]model.FriendLink, error) {
	links, err := s.metadata.ListFriendLinksForUser(ctx, username)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	out := make([]model.FriendLink, 0, len(links))
	for _, l := range links {
		if l.Recipient == username && l.State == model.InvitePending {
			out = append(out, l)
		}
	}
	return out, nil
}

// List implements friends-list derivation: (all Approved neighbors)
// union (all users who share any group owned by a, or whose group is
// owned by a). Cached per username, invalidated on any friend-link
// mutation touching that username or on group membership change.
func (s *Service) List(ctx context.Context, username string) ([]string, error) {
	if cached, ok := s.cache.Get(username); ok {
		return cached, nil
	}

	seen := make(map[string]bool)

	links, err := s.metadata.ListFriendLinksForUser(ctx, username)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	for _, l := range links {
		if l.State != model.InviteApproved {
			continue
		}
		other := l.Sender
		if other == username {
			other = l.Recipient
		}
		seen[other] = true
	}

	if s.groups != nil {
		owned, err := s.groups.GroupsOwnedBy(ctx, username)
		if err == nil {
			for _, g := range owned {
				for _, m := range g.Members {
					if m != username {
						seen[m] = true
					}
				}
			}
		}
		if g, err := s.groups.GroupContaining(ctx, username); err == nil && g != nil {
			for _, m := range g.Members {
				if m != username {
					seen[m] = true
				}
			}
			if g.Owner != username {
				seen[g.Owner] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	s.cache.Add(username, out)
	return out, nil
}

// InvalidateGroup drops the cached friends list for every member whose
// group membership just changed. Callers pass the full set of affected
// usernames.
func (s *Service) InvalidateGroup(usernames ...string) {
	for _, u := range usernames {
		s.cache.Remove(u)
	}
}

// OnlineFriends filters the global online-usernames snapshot down to
// username's friends list; Admins bypass the filter.
func (s *Service) OnlineFriends(ctx context.Context, username string, isAdmin bool) ([]string, error) {
	if s.online == nil {
		return nil, nil
	}
	all, err := s.online.OnlineUsernames(ctx)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	if isAdmin {
		return all, nil
	}
	friendSet, err := s.List(ctx, username)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(friendSet))
	for _, f := range friendSet {
		allowed[f] = true
	}
	out := make([]string, 0, len(all))
	for _, u := range all {
		if allowed[u] {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) requireNonGroupMember(ctx context.Context, username string) error {
	if s.groups == nil {
		return nil
	}
	g, err := s.groups.GroupContaining(ctx, username)
	if err == nil && g != nil {
		return usererr.New(usererr.InviteNotAllowed, "group members cannot use friend invites")
	}
	return nil
}

func (s *Service) invalidate(a, b string) {
	s.cache.Remove(a)
	s.cache.Remove(b)
}

// SendOccupantInvite implements occupant invites: requires EditProject
// on the subject project and an InviteLink witness between sender and
// target, the role must exist, the invite is persisted, and a
// room-invitation is pushed to every connected client of target.
func (s *Service) SendOccupantInvite(ctx context.Context, ep auth.EditProject, sender, target string, roleID model.RoleID) (*model.Invite, error) {
	proj := ep.Project()
	if _, ok := proj.Roles[roleID]; !ok {
		return nil, usererr.New(usererr.RoleNotFound, "role not found")
	}
	if _, err := s.checker.TryInviteLink(ctx, sender, target); err != nil {
		return nil, err
	}

	projID := proj.ID
	rID := roleID
	inv := model.Invite{
		ID:        model.InvitationID(uuid.NewString()),
		Kind:      model.InviteKindOccupant,
		Sender:    sender,
		Recipient: target,
		ProjectID: &projID,
		RoleID:    &rID,
		State:     model.InvitePending,
		Created:   time.Now(),
	}
	if err := s.metadata.CreateInvite(ctx, inv); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	s.notifier.SendOccupantInvite(ctx, target, inv)
	return &inv, nil
}

// SendCollabInvite implements collaboration invites,
// symmetric to occupant invites but delivered as a collaboration-invitation
// change event.
func (s *Service) SendCollabInvite(ctx context.Context, ep auth.EditProject, sender, target string) (*model.Invite, error) {
	proj := ep.Project()
	if _, err := s.checker.TryInviteLink(ctx, sender, target); err != nil {
		return nil, err
	}
	projID := proj.ID
	inv := model.Invite{
		ID:        model.InvitationID(uuid.NewString()),
		Kind:      model.InviteKindCollaboration,
		Sender:    sender,
		Recipient: target,
		ProjectID: &projID,
		State:     model.InvitePending,
		Created:   time.Now(),
	}
	if err := s.metadata.CreateInvite(ctx, inv); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	s.notifier.SendCollabInviteChange(ctx, target, "sent", inv)
	return &inv, nil
}

// RespondCollabInvite updates a pending collaboration invite's state and
// notifies the sender. Adding the recipient as a collaborator on approval
// is the caller's job (the REST handler composes this with
// projects.Actions.AddCollaborator) since this package has no project
// write access of its own.
func (s *Service) RespondCollabInvite(ctx context.Context, id model.InvitationID, approve bool) (*model.Invite, error) {
	inv, err := s.metadata.GetInvite(ctx, id)
	if err != nil {
		return nil, usererr.New(usererr.InviteNotFound, "invite not found")
	}
	state := model.InviteRejected
	if approve {
		state = model.InviteApproved
	}
	if err := s.metadata.UpdateInviteState(ctx, id, state); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	inv.State = state
	s.notifier.SendCollabInviteChange(ctx, inv.Sender, strings.ToLower(string(state)), inv)
	return inv, nil
}

// ListOccupantInvites returns pending occupant invites for username.
func (s *Service) ListOccupantInvites(ctx context.Context, username string) ([]model.Invite, error) {
	return s.metadata.ListInvitesForUser(ctx, username, model.InviteKindOccupant)
}

// ListCollabInvites returns pending collaboration invites for username.
func (s *Service) ListCollabInvites(ctx context.Context, username string) ([]model.Invite, error) {
	return s.metadata.ListInvitesForUser(ctx, username, model.InviteKindCollaboration)
}
