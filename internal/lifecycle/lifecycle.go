// Package lifecycle implements the Project Lifecycle Manager: the
// save-state transitions and deferred-deletion scheduling that happen as
// clients join/leave projects.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

const deleteGracePeriod = 10 * time.Minute

// Notifier is the subset of topology.Topology the Manager needs to push
// project-deleted notices.
type Notifier interface {
	SendProjectDeleted(ctx context.Context, projectID model.ProjectID, project any)
}

// BlobDeleter is the subset of store.BlobStore the deletion cascade needs.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Manager struct {
	metadata store.MetadataStore
	blobs    BlobDeleter
	notifier Notifier

	mu     sync.Mutex
	timers map[model.ProjectID]*time.Timer
}

func New(metadata store.MetadataStore, blobs BlobDeleter, notifier Notifier) *Manager {
	return &Manager{
		metadata: metadata,
		blobs:    blobs,
		notifier: notifier,
		timers:   make(map[model.ProjectID]*time.Timer),
	}
}

// OnCreate sets the initial Created state with a 10-minute delete_at,
// cleared the moment the first browser client occupies the project.
func (m *Manager) OnCreate(proj *model.ProjectMetadata) {
	t := time.Now().Add(deleteGracePeriod)
	proj.SaveState = model.SaveStateCreated
	proj.DeleteAt = &t
}

// OnFirstOccupant transitions Created/Broken -> Transient and clears
// delete_at, cancelling any pending deletion timer.
func (m *Manager) OnFirstOccupant(ctx context.Context, proj *model.ProjectMetadata) {
	m.cancelTimer(proj.ID)
	if proj.SaveState == model.SaveStateCreated || proj.SaveState == model.SaveStateBroken {
		proj.SaveState = model.SaveStateTransient
	}
	proj.DeleteAt = nil
	if err := m.metadata.UpdateProject(ctx, *proj); err != nil {
		logging.Error(ctx, "failed to clear delete_at on first occupant", zap.String("project_id", string(proj.ID)), zap.Error(err))
	}
}

// OnSaveRole transitions to Saved and clears delete_at.
func (m *Manager) OnSaveRole(proj *model.ProjectMetadata) {
	m.cancelTimer(proj.ID)
	proj.SaveState = model.SaveStateSaved
	proj.DeleteAt = nil
}

// MarkBroken transitions a Transient project to Broken; it matches the
// markBroken callback shape topology.Topology expects.
func (m *Manager) MarkBroken(ctx context.Context, projectID model.ProjectID) error {
	proj, err := m.metadata.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.SaveState != model.SaveStateTransient {
		return nil
	}
	proj.SaveState = model.SaveStateBroken
	return m.metadata.UpdateProject(ctx, *proj)
}

// OnRoomEmpty implements "last occupant leaves" rules. A Transient
// project with only one role has nowhere left for the leaver to have
// gone within the same project, so it is deleted immediately rather than
// given a grace period.
func (m *Manager) OnRoomEmpty(ctx context.Context, projectID model.ProjectID) {
	proj, err := m.metadata.GetProject(ctx, projectID)
	if err != nil {
		logging.Warn(ctx, "lifecycle: project vanished before room-empty handling", zap.String("project_id", string(projectID)), zap.Error(err))
		return
	}

	switch proj.SaveState {
	case model.SaveStateTransient:
		if len(proj.Roles) <= 1 {
			m.deleteProject(ctx, proj)
			return
		}
		m.scheduleDeletion(ctx, proj)
	case model.SaveStateBroken:
		m.scheduleDeletion(ctx, proj)
	case model.SaveStateSaved, model.SaveStateCreated:
		// no action
	}
}

func (m *Manager) scheduleDeletion(ctx context.Context, proj *model.ProjectMetadata) {
	t := time.Now().Add(deleteGracePeriod)
	proj.DeleteAt = &t
	if err := m.metadata.UpdateProject(ctx, *proj); err != nil {
		logging.Error(ctx, "failed to schedule deletion", zap.String("project_id", string(proj.ID)), zap.Error(err))
		return
	}
	metrics.ProjectsPendingDeletion.Inc()

	id := proj.ID
	timer := time.AfterFunc(deleteGracePeriod, func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()

		bg := context.Background()
		current, err := m.metadata.GetProject(bg, id)
		if err != nil || current.DeleteAt == nil {
			return // reoccupied or already gone
		}
		metrics.ProjectsPendingDeletion.Dec()
		m.deleteProject(bg, current)
	})

	m.mu.Lock()
	if existing, ok := m.timers[id]; ok {
		existing.Stop()
	}
	m.timers[id] = timer
	m.mu.Unlock()
}

func (m *Manager) cancelTimer(id model.ProjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
		metrics.ProjectsPendingDeletion.Dec()
	}
}

// deleteProject cascades deletion: metadata row, all role blob
// keys, project-deleted notice, cache eviction (handled by the cached
// store decorator on DeleteProject).
func (m *Manager) deleteProject(ctx context.Context, proj *model.ProjectMetadata) {
	// Metadata row first, blobs after: no live metadata may reference a
	// missing blob.
	if err := m.metadata.DeleteProject(ctx, proj.ID); err != nil {
		logging.Error(ctx, "failed to delete project metadata", zap.String("project_id", string(proj.ID)), zap.Error(usererr.DatabaseError(err)))
		return
	}
	for _, role := range proj.Roles {
		if err := m.blobs.Delete(ctx, role.CodeKey); err != nil {
			logging.Warn(ctx, "failed to delete code blob during project deletion", zap.String("key", role.CodeKey), zap.Error(err))
		}
		if err := m.blobs.Delete(ctx, role.MediaKey); err != nil {
			logging.Warn(ctx, "failed to delete media blob during project deletion", zap.String("key", role.MediaKey), zap.Error(err))
		}
	}
	if m.notifier != nil {
		m.notifier.SendProjectDeleted(ctx, proj.ID, proj)
	}
}

// Sweep deletes every project whose delete_at has already elapsed; run
// periodically as a backstop for the in-process timer map (e.g. after a
// restart where in-flight timers were lost), mirroring the metadata
// store's own TTL index (15 minutes) with a tighter, explicit pass.
func (m *Manager) Sweep(ctx context.Context) {
	due, err := m.metadata.ListProjectsPendingDeletion(ctx, time.Now())
	if err != nil {
		logging.Error(ctx, "lifecycle sweep failed to list due projects", zap.Error(err))
		return
	}
	for i := range due {
		m.deleteProject(ctx, &due[i])
	}
}
