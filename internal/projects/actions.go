// Package projects implements the Project Actions component:
// create/rename/delete project & role, save role, publish/unpublish,
// thumbnail extraction, approval gating. Every mutation takes an auth
// witness instead of re-deriving permission from a raw username,
// and re-broadcasts room-state through Topology after the store
// mutation.
package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/moderation"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/thumbnail"
	"github.com/netsblox/cloud/internal/usererr"
)

// RoleData is the code/media payload a client uploads for one role.
type RoleData struct {
	Name  string
	Code  []byte
	Media []byte
}

// ProjectData is the create(project_data) request payload.
type ProjectData struct {
	Owner string
	Name  string
	Roles []RoleData
}

// Notifier is the subset of topology.Topology Project Actions needs to
// re-broadcast room-state and project-deleted notices.
type Notifier interface {
	SendRoomState(ctx context.Context, proj *model.ProjectMetadata)
	SendProjectDeleted(ctx context.Context, projectID model.ProjectID, project any)
}

// LifecycleHooks is the subset of lifecycle.Manager Create/SaveRole need
// (save-state transitions live in the lifecycle package; Project
// Actions only triggers them at the right points).
type LifecycleHooks interface {
	OnCreate(proj *model.ProjectMetadata)
	OnSaveRole(proj *model.ProjectMetadata)
}

type Actions struct {
	metadata  store.MetadataStore
	blobs     store.BlobStore
	notifier  Notifier
	lifecycle LifecycleHooks
}

func New(metadata store.MetadataStore, blobs store.BlobStore, notifier Notifier, lifecycle LifecycleHooks) *Actions {
	return &Actions{metadata: metadata, blobs: blobs, notifier: notifier, lifecycle: lifecycle}
}

// BlobKey computes the canonical blob key for a role's code or media.
// Guest-owned (unauthenticated) projects are out of this build's scope,
// so every project lives under "users".
func BlobKey(owner string, projectID model.ProjectID, roleID model.RoleID, kind string) string {
	return fmt.Sprintf("users/%s/%s/%s/%s.xml", owner, projectID, roleID, kind)
}

// Create implements create(project_data): requires EditUser on the
// owner, synthesizes a role if none were given, uploads every role's blobs
// before the metadata row is written (blob before metadata pointer),
// and assigns a name unique per owner.
func (a *Actions) Create(ctx context.Context, ownerWitness auth.EditUser, data ProjectData) (*model.ProjectMetadata, error) {
	owner := ownerWitness.Target()
	if len(data.Roles) == 0 {
		data.Roles = []RoleData{{Name: "myRole"}}
	}

	existing, err := a.metadata.ListProjectsByOwner(ctx, owner)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	name := data.Name
	if name == "" {
		name = "untitled"
	}
	if !moderation.ValidName(name) {
		return nil, usererr.New(usererr.InvalidName, "invalid project name")
	}
	name = uniqueName(name, existing, "")

	id := model.ProjectID(uuid.NewString())
	roles := make(map[model.RoleID]model.RoleMetadata, len(data.Roles))
	now := time.Now()
	for _, rd := range data.Roles {
		roleID := model.RoleID(uuid.NewString())
		codeKey := BlobKey(owner, id, roleID, "code")
		mediaKey := BlobKey(owner, id, roleID, "media")
		if err := a.blobs.Put(ctx, codeKey, rd.Code); err != nil {
			return nil, usererr.Wrap(usererr.S3, err)
		}
		if err := a.blobs.Put(ctx, mediaKey, rd.Media); err != nil {
			return nil, usererr.Wrap(usererr.S3, err)
		}
		rn := rd.Name
		if rn == "" {
			rn = "myRole"
		}
		roles[roleID] = model.RoleMetadata{ID: roleID, Name: rn, CodeKey: codeKey, MediaKey: mediaKey, Updated: now}
	}

	proj := &model.ProjectMetadata{
		ID:           id,
		Owner:        owner,
		Name:         name,
		Roles:        roles,
		PublishState: model.PublishStatePrivate,
		OriginTime:   now,
		Updated:      now,
	}
	a.lifecycle.OnCreate(proj)

	if err := a.metadata.CreateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	return proj, nil
}

// Rename implements rename(ep, new_name): validate, pick a unique
// name, update, re-broadcast.
func (a *Actions) Rename(ctx context.Context, ep auth.EditProject, newName string) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	if !moderation.ValidName(newName) {
		return nil, usererr.New(usererr.InvalidName, "invalid project name")
	}
	existing, err := a.metadata.ListProjectsByOwner(ctx, proj.Owner)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	proj.Name = uniqueName(newName, existing, proj.ID)
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// Publish implements publish(ep): PendingApproval if any role trips
// the approval predicate, else Public. Never decreases moderation
// strictness: a previously-flagged project can never become Public
// without first being re-saved clean.
func (a *Actions) Publish(ctx context.Context, ep auth.EditProject) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	flagged, err := a.anyRoleFlagged(ctx, proj)
	if err != nil {
		return nil, err
	}
	if flagged {
		proj.PublishState = model.PublishStatePendingApproval
	} else {
		proj.PublishState = model.PublishStatePublic
	}
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// Unpublish implements unpublish(ep): set Private.
func (a *Actions) Unpublish(ctx context.Context, ep auth.EditProject) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	proj.PublishState = model.PublishStatePrivate
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// SaveRole implements save_role(ep, role_id, data): upload, demote a
// currently-Public project if the new content trips the predicate, mark
// Saved, update the role record, broadcast.
func (a *Actions) SaveRole(ctx context.Context, ep auth.EditProject, roleID model.RoleID, data RoleData) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	role, ok := proj.Roles[roleID]
	if !ok {
		return nil, usererr.New(usererr.RoleNotFound, "role not found")
	}

	name := data.Name
	if name == "" {
		name = role.Name
	}
	if !moderation.ValidName(name) {
		return nil, usererr.New(usererr.InvalidName, "invalid role name")
	}

	if err := a.blobs.Put(ctx, role.CodeKey, data.Code); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}
	if err := a.blobs.Put(ctx, role.MediaKey, data.Media); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}

	if proj.PublishState == model.PublishStatePublic && moderation.ApprovalPredicate(name, string(data.Code)) {
		proj.PublishState = model.PublishStatePendingApproval
	}

	role.Name = name
	role.Updated = time.Now()
	proj.Roles[roleID] = role
	proj.Updated = role.Updated
	a.lifecycle.OnSaveRole(proj)

	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// CreateRole implements create_role(ep, data): dedupe the name
// against existing roles, upload, insert, broadcast.
func (a *Actions) CreateRole(ctx context.Context, ep auth.EditProject, data RoleData) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	name := data.Name
	if name == "" {
		name = "myRole"
	}
	if !moderation.ValidName(name) {
		return nil, usererr.New(usererr.InvalidName, "invalid role name")
	}
	existingNames := make([]string, 0, len(proj.Roles))
	for _, r := range proj.Roles {
		existingNames = append(existingNames, r.Name)
	}
	name = uniqueRoleName(name, existingNames)

	roleID := model.RoleID(uuid.NewString())
	codeKey := BlobKey(proj.Owner, proj.ID, roleID, "code")
	mediaKey := BlobKey(proj.Owner, proj.ID, roleID, "media")
	if err := a.blobs.Put(ctx, codeKey, data.Code); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}
	if err := a.blobs.Put(ctx, mediaKey, data.Media); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}

	now := time.Now()
	proj.Roles[roleID] = model.RoleMetadata{ID: roleID, Name: name, CodeKey: codeKey, MediaKey: mediaKey, Updated: now}
	proj.Updated = now
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// RenameRole implements rename_role(ep, role_id, name).
func (a *Actions) RenameRole(ctx context.Context, ep auth.EditProject, roleID model.RoleID, name string) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	role, ok := proj.Roles[roleID]
	if !ok {
		return nil, usererr.New(usererr.RoleNotFound, "role not found")
	}
	if !moderation.ValidName(name) {
		return nil, usererr.New(usererr.InvalidName, "invalid role name")
	}
	role.Name = name
	role.Updated = time.Now()
	proj.Roles[roleID] = role
	proj.Updated = role.Updated
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// DeleteRole implements delete_role(ep, role_id): rejects deleting
// the last role, otherwise removes the map entry and both blob keys.
func (a *Actions) DeleteRole(ctx context.Context, ep auth.EditProject, roleID model.RoleID) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	role, ok := proj.Roles[roleID]
	if !ok {
		return nil, usererr.New(usererr.RoleNotFound, "role not found")
	}
	if len(proj.Roles) <= 1 {
		return nil, usererr.New(usererr.CannotDeleteLastRole, "cannot delete the last role of a project")
	}
	delete(proj.Roles, roleID)
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	if err := a.blobs.Delete(ctx, role.CodeKey); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}
	if err := a.blobs.Delete(ctx, role.MediaKey); err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// DeleteProject implements delete_project(dp): remove metadata,
// delete every role's blobs, broadcast project-deleted to any remaining
// occupants (blob deletion happens after the metadata row is gone).
func (a *Actions) DeleteProject(ctx context.Context, dp auth.DeleteProject) error {
	proj := dp.Project()
	if err := a.metadata.DeleteProject(ctx, proj.ID); err != nil {
		return usererr.DatabaseError(err)
	}
	for _, role := range proj.Roles {
		if err := a.blobs.Delete(ctx, role.CodeKey); err != nil {
			return usererr.Wrap(usererr.S3, err)
		}
		if err := a.blobs.Delete(ctx, role.MediaKey); err != nil {
			return usererr.Wrap(usererr.S3, err)
		}
	}
	a.notifier.SendProjectDeleted(ctx, proj.ID, proj)
	return nil
}

// AddCollaborator / RemoveCollaborator back the collaborators REST
// endpoints.
func (a *Actions) AddCollaborator(ctx context.Context, ep auth.EditProject, username string) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	for _, c := range proj.Collaborators {
		if c == username {
			return proj, nil
		}
	}
	proj.Collaborators = append(proj.Collaborators, username)
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

func (a *Actions) RemoveCollaborator(ctx context.Context, ep auth.EditProject, username string) (*model.ProjectMetadata, error) {
	proj := cloneProject(ep.Project())
	out := proj.Collaborators[:0]
	for _, c := range proj.Collaborators {
		if c != username {
			out = append(out, c)
		}
	}
	proj.Collaborators = out
	proj.Updated = time.Now()
	if err := a.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	a.notifier.SendRoomState(ctx, proj)
	return proj, nil
}

// GetThumbnail implements get_thumbnail(vp, aspect_ratio?): the most
// recently updated role's code blob is the source of truth for the
// project's live thumbnail.
func (a *Actions) GetThumbnail(ctx context.Context, vp auth.ViewProject, aspectRatio *float64) ([]byte, error) {
	proj := vp.Project()
	role, ok := mostRecentRole(proj)
	if !ok {
		return nil, usererr.New(usererr.ThumbnailNotFound, "project has no roles")
	}
	code, err := a.blobs.Get(ctx, role.CodeKey)
	if err != nil {
		return nil, usererr.Wrap(usererr.S3, err)
	}
	return thumbnail.FromRoleCode(code, aspectRatio)
}

func (a *Actions) anyRoleFlagged(ctx context.Context, proj *model.ProjectMetadata) (bool, error) {
	for _, role := range proj.Roles {
		code, err := a.blobs.Get(ctx, role.CodeKey)
		if err != nil {
			return false, usererr.Wrap(usererr.S3, err)
		}
		if moderation.ApprovalPredicate(role.Name, string(code)) {
			return true, nil
		}
	}
	return false, nil
}

func mostRecentRole(proj *model.ProjectMetadata) (model.RoleMetadata, bool) {
	var best model.RoleMetadata
	found := false
	for _, r := range proj.Roles {
		if !found || r.Updated.After(best.Updated) {
			best = r
			found = true
		}
	}
	return best, found
}

// uniqueName implements "generate name (N) for the smallest N>=2 not
// taken", scoped to one owner's project names; excludeID lets Rename
// compare against every *other* project of the owner.
func uniqueName(base string, existing []model.ProjectMetadata, excludeID model.ProjectID) string {
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		if p.ID == excludeID {
			continue
		}
		taken[p.Name] = true
	}
	return firstFreeName(base, taken)
}

func uniqueRoleName(base string, existingNames []string) string {
	taken := make(map[string]bool, len(existingNames))
	for _, n := range existingNames {
		taken[n] = true
	}
	return firstFreeName(base, taken)
}

func firstFreeName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func cloneProject(p *model.ProjectMetadata) *model.ProjectMetadata {
	cp := *p
	cp.Roles = make(map[model.RoleID]model.RoleMetadata, len(p.Roles))
	for k, v := range p.Roles {
		cp.Roles[k] = v
	}
	cp.Collaborators = append([]string(nil), p.Collaborators...)
	cp.Traces = append([]model.NetworkTrace(nil), p.Traces...)
	return &cp
}
