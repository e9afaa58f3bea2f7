package auth

import (
	"context"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

// GroupLookup is the minimal group-membership read surface the
// group-owner predicate needs; satisfied by store.MetadataStore and by
// groups.Service.
type GroupLookup interface {
	GroupsOwnedBy(ctx context.Context, username string) ([]model.Group, error)
	GroupContaining(ctx context.Context, username string) (*model.Group, error)
}

// UserLookup is the minimal user read surface needed to check roles.
type UserLookup interface {
	GetUser(ctx context.Context, username string) (*model.User, error)
}

// ProjectLookup is the minimal project read surface needed for the
// project witnesses.
type ProjectLookup interface {
	GetProject(ctx context.Context, id model.ProjectID) (*model.ProjectMetadata, error)
}

// FriendLookup checks blocked-link state for InviteLink.
type FriendLookup interface {
	GetFriendLink(ctx context.Context, a, b string) (*model.FriendLink, error)
}

// Checker bundles the read-only lookups every try_* predicate needs. A
// single struct keeps the call sites (REST handlers) from threading four
// separate interfaces through every action.
type Checker struct {
	Users    UserLookup
	Groups   GroupLookup
	Projects ProjectLookup
	Friends  FriendLookup
}

func NewChecker(s store.MetadataStore) *Checker {
	return &Checker{Users: s, Groups: s, Projects: s, Friends: s}
}

// Every witness type below has unexported fields; the only way to obtain
// one is through its TryXxx constructor, which runs the predicate.
// Core actions accept witnesses by value/reference instead of re-deriving
// permission from a raw username ("witness-typed permissions").

type ViewProject struct {
	project *model.ProjectMetadata
	viewer  string
}

func (w ViewProject) Project() *model.ProjectMetadata { return w.project }

type EditProject struct {
	project *model.ProjectMetadata
	editor  string
}

func (w EditProject) Project() *model.ProjectMetadata { return w.project }

type DeleteProject struct{ project *model.ProjectMetadata }

func (w DeleteProject) Project() *model.ProjectMetadata { return w.project }

type EditUser struct{ target string }

func (w EditUser) Target() string { return w.target }

type ViewUser struct{ target string }
type ListUsers struct{ actor string }
type BanUser struct{ target string }
type SetPassword struct{ target string }
type SetPasswordToken struct{ target string }
type CreateUser struct{ username string }
type ModerateProjects struct{ actor string }
type ListRooms struct{ actor string }
type ListClients struct{ actor string }
type ViewClient struct{ clientID model.ClientID }
type EvictClient struct{ clientID model.ClientID }
type SendMessage struct{ host string }
type InviteLink struct {
	sender   string
	recipient string
}

func (w InviteLink) Recipient() string { return w.recipient }

// canEditUser implements recognized predicate: actor is target,
// an Admin/Moderator, or owns a group target belongs to.
func (c *Checker) canEditUser(ctx context.Context, actor, target string) (bool, error) {
	if actor == target {
		return true, nil
	}
	u, err := c.Users.GetUser(ctx, actor)
	if err != nil {
		return false, nil //nolint:nilerr // unknown actor simply fails the predicate
	}
	if u.Role == model.UserRoleAdmin || u.Role == model.UserRoleModerator {
		return true, nil
	}
	groups, err := c.Groups.GroupsOwnedBy(ctx, actor)
	if err != nil {
		return false, usererr.DatabaseError(err)
	}
	for _, g := range groups {
		for _, m := range g.Members {
			if m == target {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Checker) isModeratorOrAdmin(ctx context.Context, actor string) (bool, error) {
	u, err := c.Users.GetUser(ctx, actor)
	if err != nil {
		return false, nil //nolint:nilerr
	}
	return u.Role == model.UserRoleAdmin || u.Role == model.UserRoleModerator, nil
}

func (c *Checker) isAdmin(ctx context.Context, actor string) (bool, error) {
	u, err := c.Users.GetUser(ctx, actor)
	if err != nil {
		return false, nil //nolint:nilerr
	}
	return u.Role == model.UserRoleAdmin, nil
}

// TryEditUser checks whether id can edit target's account.
func (c *Checker) TryEditUser(ctx context.Context, id Identity, target string) (*EditUser, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.canEditUser(ctx, id.Username, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "cannot edit this user")
	}
	return &EditUser{target: target}, nil
}

// TryViewUser uses the same predicate as TryEditUser; viewing is the
// strictly-weaker operation so it reuses the same check.
func (c *Checker) TryViewUser(ctx context.Context, id Identity, target string) (*ViewUser, error) {
	if _, err := c.TryEditUser(ctx, id, target); err != nil {
		return nil, err
	}
	return &ViewUser{target: target}, nil
}

func (c *Checker) TryListUsers(ctx context.Context, id Identity) (*ListUsers, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isModeratorOrAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "moderator or admin role required")
	}
	return &ListUsers{actor: id.Username}, nil
}

func (c *Checker) TryBanUser(ctx context.Context, id Identity, target string) (*BanUser, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isModeratorOrAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "moderator or admin role required")
	}
	return &BanUser{target: target}, nil
}

func (c *Checker) TrySetPassword(ctx context.Context, id Identity, target string) (*SetPassword, error) {
	if _, err := c.TryEditUser(ctx, id, target); err != nil {
		return nil, err
	}
	return &SetPassword{target: target}, nil
}

// TrySetPasswordToken backs the unauthenticated "forgot password" flow:
// anyone can request a reset link be minted for a username, since the
// link itself (a single-use magic link) is the actual authorization
// gate, not this witness.
func (c *Checker) TrySetPasswordToken(target string) *SetPasswordToken {
	return &SetPasswordToken{target: target}
}

// TryCreateUser allows self-registration (no prior identity) as well as
// admin-created accounts.
func (c *Checker) TryCreateUser(ctx context.Context, id Identity, username string) (*CreateUser, error) {
	if !id.HasUser() {
		return &CreateUser{username: username}, nil
	}
	ok, err := c.isAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "already logged in as another user")
	}
	return &CreateUser{username: username}, nil
}

func (c *Checker) TryModerateProjects(ctx context.Context, id Identity) (*ModerateProjects, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isModeratorOrAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "moderator or admin role required")
	}
	return &ModerateProjects{actor: id.Username}, nil
}

func (c *Checker) TryListRooms(ctx context.Context, id Identity) (*ListRooms, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "admin role required")
	}
	return &ListRooms{actor: id.Username}, nil
}

func (c *Checker) TryListClients(ctx context.Context, id Identity) (*ListClients, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "admin role required")
	}
	return &ListClients{actor: id.Username}, nil
}

func (c *Checker) TryViewClient(ctx context.Context, id Identity, clientID model.ClientID) (*ViewClient, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "admin role required")
	}
	return &ViewClient{clientID: clientID}, nil
}

func (c *Checker) TryEvictClient(ctx context.Context, id Identity, clientID model.ClientID) (*EvictClient, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	ok, err := c.isModeratorOrAdmin(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "moderator or admin role required")
	}
	return &EvictClient{clientID: clientID}, nil
}

// TrySendMessage gates server-to-server message injection: it requires
// the authorized-host identity, not a user session.
func (c *Checker) TrySendMessage(id Identity) (*SendMessage, error) {
	if !id.IsAuthorizedHost() {
		return nil, usererr.New(usererr.Permissions, "authorized host required")
	}
	return &SendMessage{host: id.AuthorizedHost}, nil
}

// TryInviteLink checks that no Blocked link stands between sender and
// recipient in either direction.
func (c *Checker) TryInviteLink(ctx context.Context, sender, recipient string) (*InviteLink, error) {
	link, err := c.Friends.GetFriendLink(ctx, sender, recipient)
	if err != nil {
		return &InviteLink{sender: sender, recipient: recipient}, nil //nolint:nilerr // no link on record
	}
	if link != nil && link.State == model.InviteBlocked {
		return nil, usererr.New(usererr.InviteNotAllowed, "blocked")
	}
	return &InviteLink{sender: sender, recipient: recipient}, nil
}

// canViewProject: owner, collaborator, can-edit-owner, or
// (view only) publish state non-Private with a presented client-id whose
// name matches the owner (guest access).
func (c *Checker) canViewProject(ctx context.Context, id Identity, proj *model.ProjectMetadata) (bool, error) {
	if id.HasUser() {
		if id.Username == proj.Owner {
			return true, nil
		}
		for _, collab := range proj.Collaborators {
			if collab == id.Username {
				return true, nil
			}
		}
		if ok, err := c.canEditUser(ctx, id.Username, proj.Owner); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	if proj.PublishState != model.PublishStatePrivate && id.ClientIDPresented == proj.Owner {
		return true, nil
	}
	return false, nil
}

// TryViewProject fetches and authorizes a project read.
func (c *Checker) TryViewProject(ctx context.Context, id Identity, projectID model.ProjectID) (*ViewProject, error) {
	proj, err := c.Projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, usererr.New(usererr.ProjectNotFound, "project not found")
	}
	ok, err := c.canViewProject(ctx, id, proj)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, usererr.New(usererr.Permissions, "cannot view this project")
	}
	return &ViewProject{project: proj, viewer: id.Username}, nil
}

// TryEditProject is the write variant: owner, collaborator, or can-edit-owner.
func (c *Checker) TryEditProject(ctx context.Context, id Identity, projectID model.ProjectID) (*EditProject, error) {
	if !id.HasUser() {
		return nil, usererr.New(usererr.LoginRequired, "login required")
	}
	proj, err := c.Projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, usererr.New(usererr.ProjectNotFound, "project not found")
	}
	if id.Username != proj.Owner {
		isCollab := false
		for _, collab := range proj.Collaborators {
			if collab == id.Username {
				isCollab = true
				break
			}
		}
		if !isCollab {
			ok, err := c.canEditUser(ctx, id.Username, proj.Owner)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, usererr.New(usererr.Permissions, "cannot edit this project")
			}
		}
	}
	return &EditProject{project: proj, editor: id.Username}, nil
}

// TryEditUserByName is a convenience for callers that only have a target
// username and must authorize an owner before a project even exists yet
// (create requires EditUser on the owner).
func (c *Checker) TryEditUserByName(ctx context.Context, id Identity, owner string) (*EditUser, error) {
	return c.TryEditUser(ctx, id, owner)
}

// TryDeleteProject reuses the edit predicate; deletion is at least as
// sensitive as editing.
func (c *Checker) TryDeleteProject(ctx context.Context, id Identity, projectID model.ProjectID) (*DeleteProject, error) {
	edit, err := c.TryEditProject(ctx, id, projectID)
	if err != nil {
		return nil, err
	}
	return &DeleteProject{project: edit.project}, nil
}
