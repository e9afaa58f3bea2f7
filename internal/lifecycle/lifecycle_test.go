package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
)

type mockNotifier struct {
	deletedProjectID model.ProjectID
	called           bool
}

func (m *mockNotifier) SendProjectDeleted(_ context.Context, projectID model.ProjectID, _ any) {
	m.called = true
	m.deletedProjectID = projectID
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *mockNotifier) {
	t.Helper()
	s := store.NewMemoryStore()
	blobs := store.NewMemoryBlobStore()
	notifier := &mockNotifier{}
	return New(s, blobs, notifier), s, notifier
}

func TestOnCreateSetsGracePeriod(t *testing.T) {
	m, _, _ := newTestManager(t)
	proj := &model.ProjectMetadata{ID: "p1"}
	m.OnCreate(proj)

	assert.Equal(t, model.SaveStateCreated, proj.SaveState)
	require.NotNil(t, proj.DeleteAt)
	assert.True(t, proj.DeleteAt.After(time.Now()))
}

func TestOnFirstOccupantClearsDeleteAt(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	at := time.Now().Add(time.Minute)
	proj := &model.ProjectMetadata{ID: "p1", SaveState: model.SaveStateCreated, DeleteAt: &at}
	require.NoError(t, s.CreateProject(ctx, *proj))

	m.OnFirstOccupant(ctx, proj)

	assert.Equal(t, model.SaveStateTransient, proj.SaveState)
	assert.Nil(t, proj.DeleteAt)
}

func TestOnSaveRoleTransitionsToSaved(t *testing.T) {
	m, _, _ := newTestManager(t)
	proj := &model.ProjectMetadata{ID: "p1", SaveState: model.SaveStateTransient}
	m.OnSaveRole(proj)
	assert.Equal(t, model.SaveStateSaved, proj.SaveState)
	assert.Nil(t, proj.DeleteAt)
}

func TestMarkBrokenOnlyAffectsTransient(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", SaveState: model.SaveStateSaved}))

	require.NoError(t, m.MarkBroken(ctx, "p1"))
	got, _ := s.GetProject(ctx, "p1")
	assert.Equal(t, model.SaveStateSaved, got.SaveState)

	require.NoError(t, s.UpdateProject(ctx, model.ProjectMetadata{ID: "p1", SaveState: model.SaveStateTransient}))
	require.NoError(t, m.MarkBroken(ctx, "p1"))
	got, _ = s.GetProject(ctx, "p1")
	assert.Equal(t, model.SaveStateBroken, got.SaveState)
}

func TestOnRoomEmptyDeletesSingleRoleTransientImmediately(t *testing.T) {
	m, s, notifier := newTestManager(t)
	ctx := context.Background()
	proj := model.ProjectMetadata{
		ID:        "p1",
		SaveState: model.SaveStateTransient,
		Roles:     map[model.RoleID]model.RoleMetadata{"r1": {ID: "r1"}},
	}
	require.NoError(t, s.CreateProject(ctx, proj))

	m.OnRoomEmpty(ctx, "p1")

	assert.True(t, notifier.called)
	assert.Equal(t, model.ProjectID("p1"), notifier.deletedProjectID)
	_, err := s.GetProject(ctx, "p1")
	assert.Error(t, err)
}

func TestOnRoomEmptySavedProjectDoesNothing(t *testing.T) {
	m, s, notifier := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", SaveState: model.SaveStateSaved}))

	m.OnRoomEmpty(ctx, "p1")

	assert.False(t, notifier.called)
	_, err := s.GetProject(ctx, "p1")
	assert.NoError(t, err)
}

func TestOnRoomEmptyMultiRoleTransientSchedulesDeletion(t *testing.T) {
	m, s, notifier := newTestManager(t)
	ctx := context.Background()
	proj := model.ProjectMetadata{
		ID:        "p1",
		SaveState: model.SaveStateTransient,
		Roles: map[model.RoleID]model.RoleMetadata{
			"r1": {ID: "r1"}, "r2": {ID: "r2"},
		},
	}
	require.NoError(t, s.CreateProject(ctx, proj))

	m.OnRoomEmpty(ctx, "p1")

	assert.False(t, notifier.called)
	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.DeleteAt)
}

func TestSweepDeletesDueProjects(t *testing.T) {
	m, s, notifier := newTestManager(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", DeleteAt: &past}))

	m.Sweep(ctx)

	assert.True(t, notifier.called)
	_, err := s.GetProject(ctx, "p1")
	assert.Error(t, err)
}
