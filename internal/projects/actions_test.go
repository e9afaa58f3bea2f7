package projects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
)

const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

type recordingNotifier struct {
	roomStates      int
	deletedProjects []model.ProjectID
}

func (n *recordingNotifier) SendRoomState(_ context.Context, _ *model.ProjectMetadata) {
	n.roomStates++
}

func (n *recordingNotifier) SendProjectDeleted(_ context.Context, id model.ProjectID, _ any) {
	n.deletedProjects = append(n.deletedProjects, id)
}

type recordingLifecycle struct {
	created  int
	saveRole int
}

func (l *recordingLifecycle) OnCreate(proj *model.ProjectMetadata) {
	l.created++
	proj.SaveState = model.SaveStateCreated
}

func (l *recordingLifecycle) OnSaveRole(_ *model.ProjectMetadata) {
	l.saveRole++
}

func seedOwner(t *testing.T, s *store.MemoryStore, username string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), model.User{Username: username, Role: model.UserRoleUser}))
}

func newTestActions(t *testing.T) (*Actions, *store.MemoryStore, *recordingNotifier, *recordingLifecycle) {
	t.Helper()
	s := store.NewMemoryStore()
	blobs := store.NewMemoryBlobStore()
	n := &recordingNotifier{}
	l := &recordingLifecycle{}
	return New(s, blobs, n, l), s, n, l
}

func TestCreateSynthesizesDefaultRoleAndUniqueName(t *testing.T) {
	a, s, _, l := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	checker := auth.NewChecker(s)
	ew, err := checker.TryEditUser(ctx, auth.Identity{Username: "alice"}, "alice")
	require.NoError(t, err)

	proj, err := a.Create(ctx, *ew, ProjectData{Owner: "alice", Name: "untitled"})
	require.NoError(t, err)
	assert.Len(t, proj.Roles, 1)
	assert.Equal(t, 1, l.created)

	proj2, err := a.Create(ctx, *ew, ProjectData{Owner: "alice", Name: "untitled"})
	require.NoError(t, err)
	assert.Equal(t, "untitled (2)", proj2.Name)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	checker := auth.NewChecker(s)
	ew, err := checker.TryEditUser(ctx, auth.Identity{Username: "alice"}, "alice")
	require.NoError(t, err)

	_, err = a.Create(ctx, *ew, ProjectData{Owner: "alice", Name: "<script>"})
	assert.Error(t, err)
}

func mustEditProject(t *testing.T, s *store.MemoryStore, username string, id model.ProjectID) auth.EditProject {
	t.Helper()
	ep, err := auth.NewChecker(s).TryEditProject(context.Background(), auth.Identity{Username: username}, id)
	require.NoError(t, err)
	return *ep
}

func TestRenamePicksUniqueName(t *testing.T) {
	a, s, n, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice", Name: "first"}))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p2", Owner: "alice", Name: "second"}))

	ep := mustEditProject(t, s, "alice", "p2")
	proj, err := a.Rename(ctx, ep, "first")
	require.NoError(t, err)
	assert.Equal(t, "first (2)", proj.Name)
	assert.Equal(t, 1, n.roomStates)
}

func TestPublishGoesPublicWhenClean(t *testing.T) {
	a, s, n, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code", MediaKey: "k-media"}
	require.NoError(t, a.blobs.Put(ctx, "k-code", []byte("<code></code>")))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.Publish(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatePublic, proj.PublishState)
	assert.Equal(t, 1, n.roomStates)
}

func TestPublishFlagsPendingApprovalWhenFlagged(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code", MediaKey: "k-media"}
	require.NoError(t, a.blobs.Put(ctx, "k-code", []byte("this has badword in it")))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.Publish(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatePendingApproval, proj.PublishState)
}

func TestUnpublishSetsPrivate(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice", PublishState: model.PublishStatePublic}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.Unpublish(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatePrivate, proj.PublishState)
}

func TestSaveRoleUploadsAndTriggersLifecycle(t *testing.T) {
	a, s, n, l := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code", MediaKey: "k-media"}
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.SaveRole(ctx, ep, "r1", RoleData{Name: "role1", Code: []byte("<code></code>")})
	require.NoError(t, err)
	assert.Equal(t, 1, l.saveRole)
	assert.Equal(t, 1, n.roomStates)

	code, err := a.blobs.Get(ctx, proj.Roles["r1"].CodeKey)
	require.NoError(t, err)
	assert.Equal(t, "<code></code>", string(code))
}

func TestSaveRoleUnknownRole(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice"}))

	ep := mustEditProject(t, s, "alice", "p1")
	_, err := a.SaveRole(ctx, ep, "missing", RoleData{})
	assert.Error(t, err)
}

func TestSaveRoleDemotesPublicProjectWhenFlagged(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code", MediaKey: "k-media"}
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", PublishState: model.PublishStatePublic,
		Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.SaveRole(ctx, ep, "r1", RoleData{Name: "role1", Code: []byte("badword content")})
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatePendingApproval, proj.PublishState)
}

func TestCreateRoleDedupesNames(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "myRole"}
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.CreateRole(ctx, ep, RoleData{Name: "myRole"})
	require.NoError(t, err)

	found := false
	for _, r := range proj.Roles {
		if r.Name == "myRole (2)" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRenameRole(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1"}
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.RenameRole(ctx, ep, "r1", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", proj.Roles["r1"].Name)
}

func TestDeleteRoleRejectsLastRole(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1"}
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	_, err := a.DeleteRole(ctx, ep, "r1")
	assert.Error(t, err)
}

func TestDeleteRoleRemovesBlobsWhenMultipleRolesExist(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	r1 := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k1-code", MediaKey: "k1-media"}
	r2 := model.RoleMetadata{ID: "r2", Name: "role2", CodeKey: "k2-code", MediaKey: "k2-media"}
	require.NoError(t, a.blobs.Put(ctx, "k1-code", []byte("code1")))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice",
		Roles: map[model.RoleID]model.RoleMetadata{"r1": r1, "r2": r2},
	}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.DeleteRole(ctx, ep, "r1")
	require.NoError(t, err)
	assert.Len(t, proj.Roles, 1)

	_, err = a.blobs.Get(ctx, "k1-code")
	assert.Error(t, err)
}

func TestDeleteProjectRemovesMetadataAndBlobsAndNotifies(t *testing.T) {
	a, s, n, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code", MediaKey: "k-media"}
	require.NoError(t, a.blobs.Put(ctx, "k-code", []byte("code")))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	checker := auth.NewChecker(s)
	dp, err := checker.TryDeleteProject(ctx, auth.Identity{Username: "alice"}, "p1")
	require.NoError(t, err)

	require.NoError(t, a.DeleteProject(ctx, *dp))
	assert.Equal(t, []model.ProjectID{"p1"}, n.deletedProjects)

	_, err = s.GetProject(ctx, "p1")
	assert.Error(t, err)
	_, err = a.blobs.Get(ctx, "k-code")
	assert.Error(t, err)
}

func TestAddAndRemoveCollaborator(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice"}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.AddCollaborator(ctx, ep, "bob")
	require.NoError(t, err)
	assert.Contains(t, proj.Collaborators, "bob")

	ep = mustEditProject(t, s, "alice", "p1")
	proj, err = a.RemoveCollaborator(ctx, ep, "bob")
	require.NoError(t, err)
	assert.NotContains(t, proj.Collaborators, "bob")
}

func TestAddCollaboratorIsIdempotent(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice", Collaborators: []string{"bob"}}))

	ep := mustEditProject(t, s, "alice", "p1")
	proj, err := a.AddCollaborator(ctx, ep, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, proj.Collaborators)
}

func TestGetThumbnailExtractsFromMostRecentRole(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	codeWithThumb := "<thumbnail>data:image/png;base64," + tinyPNGBase64 + "</thumbnail>"
	role := model.RoleMetadata{ID: "r1", Name: "role1", CodeKey: "k-code"}
	require.NoError(t, a.blobs.Put(ctx, "k-code", []byte(codeWithThumb)))
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{
		ID: "p1", Owner: "alice", Roles: map[model.RoleID]model.RoleMetadata{"r1": role},
	}))

	checker := auth.NewChecker(s)
	vp, err := checker.TryViewProject(ctx, auth.Identity{Username: "alice"}, "p1")
	require.NoError(t, err)

	png, err := a.GetThumbnail(ctx, *vp, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

func TestGetThumbnailNoRoles(t *testing.T) {
	a, s, _, _ := newTestActions(t)
	ctx := context.Background()
	seedOwner(t, s, "alice")
	require.NoError(t, s.CreateProject(ctx, model.ProjectMetadata{ID: "p1", Owner: "alice"}))

	checker := auth.NewChecker(s)
	vp, err := checker.TryViewProject(ctx, auth.Identity{Username: "alice"}, "p1")
	require.NoError(t, err)

	_, err = a.GetThumbnail(ctx, *vp, nil)
	assert.Error(t, err)
}
