package address

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
)

func seedProject(t *testing.T, s *store.MemoryStore) model.ProjectMetadata {
	t.Helper()
	p := model.ProjectMetadata{
		ID:    "proj1",
		Owner: "bob",
		Name:  "MyProject",
		Roles: map[model.RoleID]model.RoleMetadata{
			"r1": {ID: "r1", Name: "role1"},
			"r2": {ID: "r2", Name: "role2"},
		},
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestResolveAllRoles(t *testing.T) {
	s := store.NewMemoryStore()
	seedProject(t, s)
	r := New(s)

	addrs, err := r.Resolve(context.Background(), "MyProject@bob")
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
}

func TestResolveSingleRole(t *testing.T) {
	s := store.NewMemoryStore()
	seedProject(t, s)
	r := New(s)

	addrs, err := r.Resolve(context.Background(), "role1@MyProject@bob")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, model.RoleID("r1"), addrs[0].RoleID)
}

func TestResolveMalformedAddress(t *testing.T) {
	r := New(store.NewMemoryStore())
	_, err := r.Resolve(context.Background(), "just-one-segment")
	assert.Error(t, err)
}

func TestResolveUnknownProjectNotCached(t *testing.T) {
	s := store.NewMemoryStore()
	r := New(s)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "nope@bob")
	assert.Error(t, err)

	seedProject(t, s)
	addrs, err := r.Resolve(ctx, "MyProject@bob")
	require.NoError(t, err)
	assert.NotEmpty(t, addrs)
}

func TestInvalidateProjectEvictsCache(t *testing.T) {
	s := store.NewMemoryStore()
	seedProject(t, s)
	r := NewWithSize(s, 10)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "MyProject@bob")
	require.NoError(t, err)

	r.InvalidateProject("proj1")
	assert.NotContains(t, r.cache.Keys(), "MyProject@bob")
}

func TestParseExternal(t *testing.T) {
	raw, appID, ok := ParseExternal("some-addr#MyApp")
	assert.True(t, ok)
	assert.Equal(t, "some-addr", raw)
	assert.Equal(t, model.AppID("myapp"), appID)

	_, _, ok = ParseExternal("no-hash-here")
	assert.False(t, ok)
}
