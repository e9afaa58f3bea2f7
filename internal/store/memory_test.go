package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/model"
)

func TestMemoryStoreUserLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := model.User{Username: "alice", Email: "alice@example.com", Role: model.UserRoleUser}
	require.NoError(t, s.CreateUser(ctx, u))

	err := s.CreateUser(ctx, u)
	require.Error(t, err)

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	u.Email = "alice2@example.com"
	require.NoError(t, s.UpdateUser(ctx, u))
	got, _ = s.GetUser(ctx, "alice")
	assert.Equal(t, "alice2@example.com", got.Email)

	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.GetUser(ctx, "alice")
	assert.Error(t, err)
}

func TestMemoryStoreProjectLookupByName(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := model.ProjectMetadata{ID: "p1", Owner: "bob", Name: "MyProject", Roles: map[model.RoleID]model.RoleMetadata{}}
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProjectByName(ctx, "bob", "MyProject")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectID("p1"), got.ID)

	_, err = s.GetProjectByName(ctx, "bob", "NoSuchProject")
	assert.Error(t, err)
}

func TestMemoryStoreProjectsPendingDeletion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "expired", DeleteAt: &past}))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "fresh", DeleteAt: &future}))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "never"}))

	due, err := s.ListProjectsPendingDeletion(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.ProjectID("expired"), due[0].ID)
}

func TestMemoryStoreFriendLinkIsSymmetricKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertFriendLink(ctx, model.FriendLink{Sender: "a", Recipient: "b", State: model.InviteApproved}))

	link, err := s.GetFriendLink(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, model.InviteApproved, link.State)

	require.NoError(t, s.DeleteFriendLink(ctx, "a", "b"))
	_, err = s.GetFriendLink(ctx, "a", "b")
	assert.Error(t, err)
}

func TestMemoryStoreMagicLinkConsumeOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id := model.MagicLinkID("tok-1")
	require.NoError(t, s.CreateMagicLink(ctx, id, "alice", time.Now().Add(time.Minute)))

	username, err := s.ConsumeMagicLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = s.ConsumeMagicLink(ctx, id)
	assert.Error(t, err)
}

func TestMemoryStoreMagicLinkExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id := model.MagicLinkID("tok-2")
	require.NoError(t, s.CreateMagicLink(ctx, id, "alice", time.Now().Add(-time.Minute)))

	_, err := s.ConsumeMagicLink(ctx, id)
	assert.Error(t, err)
}

func TestMemoryStoreBanLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	banned, err := s.IsBanned(ctx, "eve")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.BanUser(ctx, model.BannedAccount{Username: "eve", BannedAt: time.Now()}))
	banned, _ = s.IsBanned(ctx, "eve")
	assert.True(t, banned)

	require.NoError(t, s.UnbanUser(ctx, "eve"))
	banned, _ = s.IsBanned(ctx, "eve")
	assert.False(t, banned)
}

func TestMemoryStoreOAuthClientRevoke(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := model.OAuthClient{ID: "c1", Owner: "bob", Name: "App"}
	require.NoError(t, s.CreateOAuthClient(ctx, c))

	got, err := s.GetOAuthClient(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.Revoked)

	require.NoError(t, s.RevokeOAuthClient(ctx, "c1"))
	got, _ = s.GetOAuthClient(ctx, "c1")
	assert.True(t, got.Revoked)
}
