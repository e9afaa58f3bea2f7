// Package model holds the core data-model entities: the shapes
// Topology, the stores, and the action packages all exchange.
package model

import (
	"encoding/json"
	"time"
)

type ClientID string
type ProjectID string
type RoleID string
type GroupID string
type GalleryID string
type TraceID string
type MagicLinkID string
type InvitationID string
type AppID string

// SaveState is the Project Lifecycle Manager's state.
type SaveState string

const (
	SaveStateCreated   SaveState = "Created"
	SaveStateTransient SaveState = "Transient"
	SaveStateBroken    SaveState = "Broken"
	SaveStateSaved     SaveState = "Saved"
)

// PublishState controls project visibility (publish/unpublish).
type PublishState string

const (
	PublishStatePrivate         PublishState = "Private"
	PublishStatePublic          PublishState = "Public"
	PublishStatePendingApproval PublishState = "PendingApproval"
)

// ClientState is the Browser-or-External placement of a client.
type ClientState struct {
	Browser  *BrowserState  `json:"browser,omitempty"`
	External *ExternalState `json:"external,omitempty"`
}

type BrowserState struct {
	ProjectID ProjectID `json:"project_id"`
	RoleID    RoleID    `json:"role_id"`
}

type ExternalState struct {
	Address string `json:"address"`
	AppID   AppID  `json:"app_id"`
}

func (s ClientState) IsBrowser() bool { return s.Browser != nil }

// RoleMetadata is the persisted half of a Role; blob keys point into
// the blob store.
type RoleMetadata struct {
	ID       RoleID    `json:"id"`
	Name     string    `json:"name"`
	CodeKey  string    `json:"-"`
	MediaKey string    `json:"-"`
	Updated  time.Time `json:"updated"`
}

// ProjectMetadata is the persisted Project entity.
type ProjectMetadata struct {
	ID            ProjectID               `json:"id"`
	Owner         string                  `json:"owner"`
	Name          string                  `json:"name"`
	Collaborators []string                `json:"collaborators"`
	Roles         map[RoleID]RoleMetadata `json:"roles"`
	SaveState     SaveState               `json:"save_state"`
	PublishState  PublishState            `json:"publish_state"`
	OriginTime    time.Time               `json:"origin_time"`
	Updated       time.Time               `json:"updated"`
	DeleteAt      *time.Time              `json:"delete_at,omitempty"`
	Traces        []NetworkTrace          `json:"traces,omitempty"`
}

// NetworkTrace is a recording window.
type NetworkTrace struct {
	ID        TraceID    `json:"id"`
	ProjectID ProjectID  `json:"project_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

func (t NetworkTrace) Open() bool { return t.EndTime == nil }

// SentMessage is written while a trace window is open.
type SentMessage struct {
	ProjectID  ProjectID       `json:"project_id"`
	Source     ClientState     `json:"source"`
	Recipients []ClientState   `json:"recipients"`
	Content    json.RawMessage `json:"content"`
	Time       time.Time       `json:"time"`
}

type InviteState string

const (
	InvitePending  InviteState = "Pending"
	InviteApproved InviteState = "Approved"
	InviteRejected InviteState = "Rejected"
	InviteBlocked  InviteState = "Blocked"
)

// FriendLink is the (a,b) unordered-pair friendship state machine.
type FriendLink struct {
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	State     InviteState `json:"state"`
	Updated   time.Time   `json:"updated"`
}

type InviteKind string

const (
	InviteKindOccupant      InviteKind = "Occupant"
	InviteKindCollaboration InviteKind = "Collaboration"
	InviteKindFriend        InviteKind = "Friend"
)

// Invite is the generic Occupant/Collaboration invite envelope; friend
// invites are tracked as FriendLink instead since they have pair semantics.
type Invite struct {
	ID        InvitationID `json:"id"`
	Kind      InviteKind   `json:"kind"`
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	ProjectID *ProjectID   `json:"project_id,omitempty"`
	RoleID    *RoleID      `json:"role_id,omitempty"`
	State     InviteState  `json:"state"`
	Created   time.Time    `json:"created"`
}

// BannedAccount blocks login and project-owner transfer.
type BannedAccount struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	BannedAt time.Time `json:"banned_at"`
}

// RoomState is the JSON shape broadcast to occupants.
type RoomState struct {
	ID            ProjectID              `json:"id"`
	Owner         string                 `json:"owner"`
	Name          string                 `json:"name"`
	Collaborators []string               `json:"collaborators"`
	Roles         map[RoleID]RoomRole    `json:"roles"`
	Version       int64                  `json:"version"`
}

type RoomRole struct {
	Name      string     `json:"name"`
	Occupants []Occupant `json:"occupants"`
}

type Occupant struct {
	ID   ClientID `json:"id"`
	Name string   `json:"name"`
}

// User is the minimal persisted identity the rest of the core depends on.
type User struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	GroupID   *GroupID  `json:"group_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type UserRole string

const (
	UserRoleUser      UserRole = "User"
	UserRoleModerator UserRole = "Moderator"
	UserRoleAdmin     UserRole = "Admin"
)

// Group is the minimal read surface group-owner predicate needs.
type Group struct {
	ID      GroupID  `json:"id"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

type OAuthClientID string

// OAuthClient is one registered third-party integration:
// an issued client id/secret pair an authorized host presents to obtain
// bearer tokens for server-to-server message injection.
type OAuthClient struct {
	ID          OAuthClientID `json:"id"`
	SecretHash  string        `json:"-"`
	Owner       string        `json:"owner"`
	Name        string        `json:"name"`
	RedirectURI string        `json:"redirect_uri"`
	Created     time.Time     `json:"created"`
	Revoked     bool          `json:"revoked"`
}

// OAuthToken is one issued bearer token tied to a client.
type OAuthToken struct {
	ID        string        `json:"id"`
	ClientID  OAuthClientID `json:"client_id"`
	ExpiresAt time.Time     `json:"expires_at"`
	Revoked   bool          `json:"revoked"`
}
