// Package trace implements the Trace Recorder: per-project
// recording windows, and the SentMessage rows captured while one is open.
package trace

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/usererr"
)

// Recorder persists SentMessages against a project's currently open
// traces. It holds no locks of its own; callers serialize through
// whichever ProjectMetadata read/write path they're already using
// (Project Actions read-then-write project rows; the Router only reads
// them and appends SentMessage rows).
type Recorder struct {
	metadata store.MetadataStore
}

func New(metadata store.MetadataStore) *Recorder {
	return &Recorder{metadata: metadata}
}

// Start appends a fresh trace to the project and returns it.
func (r *Recorder) Start(ctx context.Context, projectID model.ProjectID) (*model.NetworkTrace, error) {
	proj, err := r.metadata.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	t := model.NetworkTrace{
		ID:        model.TraceID(uuid.NewString()),
		ProjectID: projectID,
		StartTime: time.Now(),
	}
	proj.Traces = append(proj.Traces, t)
	if err := r.metadata.UpdateProject(ctx, *proj); err != nil {
		return nil, usererr.DatabaseError(err)
	}
	metrics.TracesOpen.Inc()
	return &t, nil
}

// Stop closes the trace's window by setting end_time. The trace stays
// listed so its metadata and captured messages remain retrievable until
// an explicit Delete; the Router only treats end_time=nil traces as
// recording, so a stopped trace drops out of the recording set.
func (r *Recorder) Stop(ctx context.Context, projectID model.ProjectID, traceID model.TraceID) error {
	proj, err := r.metadata.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	idx, found := indexOf(proj.Traces, traceID)
	if !found {
		return usererr.New(usererr.NetworkTraceNotFound, "trace not found")
	}
	if proj.Traces[idx].EndTime == nil {
		now := time.Now()
		proj.Traces[idx].EndTime = &now
		metrics.TracesOpen.Dec()
	}
	if err := r.metadata.UpdateProject(ctx, *proj); err != nil {
		return usererr.DatabaseError(err)
	}
	return nil
}

// Get returns trace metadata; only traces still in the project's list are
// visible (see Stop's doc comment).
func (r *Recorder) Get(ctx context.Context, projectID model.ProjectID, traceID model.TraceID) (*model.NetworkTrace, error) {
	proj, err := r.metadata.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if idx, found := indexOf(proj.Traces, traceID); found {
		t := proj.Traces[idx]
		return &t, nil
	}
	return nil, usererr.New(usererr.NetworkTraceNotFound, "trace not found")
}

// Messages returns every SentMessage recorded while this trace's window
// was open: time in [start_time, end_time_or_now].
func (r *Recorder) Messages(ctx context.Context, projectID model.ProjectID, traceID model.TraceID) ([]model.SentMessage, error) {
	t, err := r.Get(ctx, projectID, traceID)
	if err != nil {
		return nil, err
	}
	msgs, err := r.metadata.GetMessagesInWindow(ctx, projectID, t.StartTime, t.EndTime)
	if err != nil {
		return nil, usererr.DatabaseError(err)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Time.Before(msgs[j].Time) })
	return msgs, nil
}

// Delete removes the trace and purges SentMessages that predate the
// earliest trace still listed. Overlapping traces both record every
// message; delete purges only messages older than the earliest remaining
// trace's start.
func (r *Recorder) Delete(ctx context.Context, projectID model.ProjectID, traceID model.TraceID) error {
	proj, err := r.metadata.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	idx, found := indexOf(proj.Traces, traceID)
	if !found {
		return usererr.New(usererr.NetworkTraceNotFound, "trace not found")
	}
	proj.Traces = append(proj.Traces[:idx], proj.Traces[idx+1:]...)
	if err := r.metadata.UpdateProject(ctx, *proj); err != nil {
		return usererr.DatabaseError(err)
	}

	if len(proj.Traces) == 0 {
		return nil
	}
	earliest := proj.Traces[0].StartTime
	for _, t := range proj.Traces[1:] {
		if t.StartTime.Before(earliest) {
			earliest = t.StartTime
		}
	}
	if err := r.metadata.DeleteMessagesBefore(ctx, projectID, earliest); err != nil {
		return usererr.DatabaseError(err)
	}
	return nil
}

// HasOpenTrace reports whether any trace of the project has end_time=None,
// the signal the Router uses to decide whether to persist a SentMessage.
func HasOpenTrace(proj *model.ProjectMetadata) bool {
	for _, t := range proj.Traces {
		if t.Open() {
			return true
		}
	}
	return false
}

func indexOf(traces []model.NetworkTrace, id model.TraceID) (int, bool) {
	for i, t := range traces {
		if t.ID == id {
			return i, true
		}
	}
	return 0, false
}
