// Package usererr implements the error taxonomy every core action returns:
// a typed Kind with a fixed HTTP mapping, never a raw storage error.
package usererr

import "fmt"

type Kind string

const (
	LoginRequired Kind = "LoginRequired"
	Permissions   Kind = "Permissions"

	UserNotFound         Kind = "UserNotFound"
	ProjectNotFound      Kind = "ProjectNotFound"
	RoleNotFound         Kind = "RoleNotFound"
	NetworkTraceNotFound Kind = "NetworkTraceNotFound"
	FriendNotFound       Kind = "FriendNotFound"
	InviteNotFound       Kind = "InviteNotFound"
	ThumbnailNotFound    Kind = "ThumbnailNotFound"

	UserExists           Kind = "UserExists"
	EmailExists          Kind = "EmailExists"
	ProjectNotActive     Kind = "ProjectNotActive"
	AccountAlreadyLinked Kind = "AccountAlreadyLinked"
	PasswordResetLinkSent Kind = "PasswordResetLinkSent"
	InviteNotAllowed     Kind = "InviteNotAllowed"

	InvalidName         Kind = "InvalidName"
	InvalidEmailAddress Kind = "InvalidEmailAddress"
	InvalidUsername     Kind = "InvalidUsername"
	InvalidClientID     Kind = "InvalidClientId"
	InvalidAppID        Kind = "InvalidAppId"
	InvalidAccountType  Kind = "InvalidAccountType"
	CannotDeleteLastRole Kind = "CannotDeleteLastRole"
	BannedUser          Kind = "BannedUser"
	IncorrectPassword   Kind = "IncorrectPassword"

	DatabaseConnection Kind = "DatabaseConnection"
	S3                 Kind = "S3"
	S3Content          Kind = "S3Content"
	Base64Decode       Kind = "Base64Decode"
	ThumbnailDecode    Kind = "ThumbnailDecode"
	ThumbnailEncode    Kind = "ThumbnailEncode"
	ActorMessage       Kind = "ActorMessage"
	EmailBuild         Kind = "EmailBuild"
)

// internalKinds never surface details beyond their code.
var internalKinds = map[Kind]bool{
	DatabaseConnection: true,
	S3:                 true,
	S3Content:          true,
	Base64Decode:       true,
	ThumbnailDecode:    true,
	ThumbnailEncode:    true,
	ActorMessage:       true,
	EmailBuild:         true,
}

// UserError is the single error type core actions return.
type UserError struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *UserError {
	return &UserError{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error) *UserError {
	return &UserError{Kind: kind, Message: string(kind), cause: cause}
}

func (e *UserError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *UserError) Unwrap() error { return e.cause }

// Internal reports whether this error must never surface details beyond
// its code.
func (e *UserError) Internal() bool { return internalKinds[e.Kind] }

// Status maps a Kind to its HTTP status.
func Status(k Kind) int {
	switch k {
	case LoginRequired:
		return 401
	case Permissions:
		return 403
	case UserNotFound, ProjectNotFound, RoleNotFound, NetworkTraceNotFound,
		FriendNotFound, InviteNotFound, ThumbnailNotFound:
		return 404
	case UserExists, EmailExists, ProjectNotActive, AccountAlreadyLinked,
		PasswordResetLinkSent, InviteNotAllowed:
		return 409
	case InvalidName, InvalidEmailAddress, InvalidUsername, InvalidClientID,
		InvalidAppID, InvalidAccountType, CannotDeleteLastRole, BannedUser,
		IncorrectPassword:
		return 400
	default:
		return 500
	}
}

// DatabaseError wraps any storage-layer failure as DatabaseConnection;
// storage errors never surface their own kind.
func DatabaseError(cause error) *UserError {
	return Wrap(DatabaseConnection, fmt.Errorf("storage operation failed: %w", cause))
}
