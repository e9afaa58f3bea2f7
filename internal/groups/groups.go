// Package groups provides the minimal group-membership read surface the
// group-owner predicate and the friends-list derivation need: Owner,
// Members, GroupsOwnedBy and GroupContaining, all read-only.
package groups

import (
	"context"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

type Service struct {
	metadata store.MetadataStore
}

func New(metadata store.MetadataStore) *Service {
	return &Service{metadata: metadata}
}

// Owner returns the username that owns a group.
func (s *Service) Owner(ctx context.Context, id model.GroupID) (string, error) {
	g, err := s.metadata.GetGroup(ctx, id)
	if err != nil {
		return "", usererr.DatabaseError(err)
	}
	return g.Owner, nil
}

// Members returns a group's member usernames.
func (s *Service) Members(ctx context.Context, id model.GroupID) ([]string, error) {
	g, err := s.metadata.GetGroup(ctx, id)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	return g.Members, nil
}

// GroupsOwnedBy lists every group a username owns, used by 
// friends-list derivation ("whose group is owned by a").
func (s *Service) GroupsOwnedBy(ctx context.Context, username string) ([]model.Group, error) {
	return s.metadata.GroupsOwnedBy(ctx, username)
}

// GroupContaining finds the (at most one) group a username belongs to,
// used by "share any group-owned-by a" derivation.
func (s *Service) GroupContaining(ctx context.Context, username string) (*model.Group, error) {
	return s.metadata.GroupContaining(ctx, username)
}
