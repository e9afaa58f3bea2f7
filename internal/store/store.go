// Package store declares the two external collaborators the core depends
// on: a metadata store and a blob store. Neither the database
// engine nor the object-store choice is this package's concern; it only
// fixes the contract and ships an in-memory reference
// implementation used by the rest of the core and by tests.
package store

import (
	"context"
	"time"

	"github.com/netsblox/cloud/internal/model"
)

// MetadataStore is the persisted half of every entity in Collections
// per: users, projects, friends, collaborationInvitations,
// occupantInvites, groups, bannedAccounts, sentMessages, magicLinks,
// oauthClients, oauthTokens. libraries/galleries are named but carry no
// feature surface per Non-goals.
type MetadataStore interface {
	// Users
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]model.User, error)

	// Projects
	CreateProject(ctx context.Context, p model.ProjectMetadata) error
	GetProject(ctx context.Context, id model.ProjectID) (*model.ProjectMetadata, error)
	GetProjectByName(ctx context.Context, owner, name string) (*model.ProjectMetadata, error)
	ListProjectsByOwner(ctx context.Context, owner string) ([]model.ProjectMetadata, error)
	ListProjectsSharedWith(ctx context.Context, username string) ([]model.ProjectMetadata, error)
	UpdateProject(ctx context.Context, p model.ProjectMetadata) error
	DeleteProject(ctx context.Context, id model.ProjectID) error
	ListProjectsPendingDeletion(ctx context.Context, before time.Time) ([]model.ProjectMetadata, error)

	// Trace messages
	RecordMessage(ctx context.Context, m model.SentMessage) error
	GetMessagesInWindow(ctx context.Context, projectID model.ProjectID, start time.Time, end *time.Time) ([]model.SentMessage, error)
	DeleteMessagesBefore(ctx context.Context, projectID model.ProjectID, before time.Time) error

	// Friend links
	GetFriendLink(ctx context.Context, a, b string) (*model.FriendLink, error)
	UpsertFriendLink(ctx context.Context, link model.FriendLink) error
	DeleteFriendLink(ctx context.Context, a, b string) error
	ListFriendLinksForUser(ctx context.Context, username string) ([]model.FriendLink, error)

	// Occupant/collaboration invites
	CreateInvite(ctx context.Context, inv model.Invite) error
	GetInvite(ctx context.Context, id model.InvitationID) (*model.Invite, error)
	ListInvitesForUser(ctx context.Context, username string, kind model.InviteKind) ([]model.Invite, error)
	UpdateInviteState(ctx context.Context, id model.InvitationID, state model.InviteState) error
	DeleteInvite(ctx context.Context, id model.InvitationID) error

	// Banned accounts
	BanUser(ctx context.Context, b model.BannedAccount) error
	UnbanUser(ctx context.Context, username string) error
	IsBanned(ctx context.Context, username string) (bool, error)

	// Groups (minimal read surface)
	GetGroup(ctx context.Context, id model.GroupID) (*model.Group, error)
	GroupsOwnedBy(ctx context.Context, username string) ([]model.Group, error)
	GroupContaining(ctx context.Context, username string) (*model.Group, error)

	// Magic links
	CreateMagicLink(ctx context.Context, id model.MagicLinkID, username string, expiresAt time.Time) error
	ConsumeMagicLink(ctx context.Context, id model.MagicLinkID) (username string, err error)

	// OAuth clients/tokens
	CreateOAuthClient(ctx context.Context, c model.OAuthClient) error
	GetOAuthClient(ctx context.Context, id model.OAuthClientID) (*model.OAuthClient, error)
	RevokeOAuthClient(ctx context.Context, id model.OAuthClientID) error
	CreateOAuthToken(ctx context.Context, t model.OAuthToken) error
	GetOAuthToken(ctx context.Context, id string) (*model.OAuthToken, error)
	RevokeOAuthToken(ctx context.Context, id string) error
	RevokeOAuthTokensForClient(ctx context.Context, clientID model.OAuthClientID) error
}

// BlobStore is the XML/media blob collaborator. Keys follow
// {users|guests}/{ownerOrGuestId}/{projectId}/{roleId}/{code|media}.xml.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// EmailSender is an external collaborator; core code only needs to call
// it, never render templates.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
