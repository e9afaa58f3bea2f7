// Package router implements the Message Router: resolving
// addresses to concrete clients, dispatching payloads, and recording
// SentMessages for projects with an open trace.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/netsblox/cloud/internal/address"
	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/model"
	"github.com/netsblox/cloud/internal/store"
	"github.com/netsblox/cloud/internal/trace"
	"go.uber.org/zap"
)

// Topology is the subset of topology.Topology the Router depends on.
type Topology interface {
	ClientState(id model.ClientID) (model.ClientState, bool)
	ExternalClient(appID model.AppID, addr string) (model.ClientID, bool)
	RoomOccupants(projectID model.ProjectID, roleID model.RoleID) []model.ClientID
	Send(id model.ClientID, payload []byte)
}

type Router struct {
	topology Topology
	resolver *address.Resolver
	metadata store.MetadataStore
}

func New(topology Topology, resolver *address.Resolver, metadata store.MetadataStore) *Router {
	return &Router{topology: topology, resolver: resolver, metadata: metadata}
}

// Send resolves the addresses, delivers to each unique connected target,
// then records best-effort. It never blocks on storage; trace persistence
// is fire-and-forget.
func (r *Router) Send(ctx context.Context, sender model.ClientID, addresses []string, content json.RawMessage) {
	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
	}()

	targets, recipientStates := r.resolveAll(ctx, addresses)

	seen := make(map[model.ClientID]bool, len(targets))
	for _, id := range targets {
		if seen[id] {
			continue
		}
		seen[id] = true
		r.topology.Send(id, content)
	}
	metrics.MessagesRouted.WithLabelValues("message").Inc()

	// Recording is fire-and-forget: failures must never affect delivery,
	// which has already happened above.
	go r.recordIfTracing(context.WithoutCancel(ctx), sender, recipientStates, content)
}

// SendIDE implements the ide-message wire kind: explicit recipient list,
// server-stamped sender, forwarded verbatim otherwise.
func (r *Router) SendIDE(ctx context.Context, sender model.ClientID, recipients []model.ClientID, content json.RawMessage) {
	stamped := stampSender(content, sender)
	seen := make(map[model.ClientID]bool, len(recipients))
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		r.topology.Send(id, stamped)
	}
	metrics.MessagesRouted.WithLabelValues("ide-message").Inc()
}

func stampSender(content json.RawMessage, sender model.ClientID) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(content, &m); err != nil {
		return content
	}
	m["sender"] = sender
	out, err := json.Marshal(m)
	if err != nil {
		return content
	}
	return out
}

// resolveAll resolves every address string to concrete ClientIds and the
// recipient ClientStates needed for trace recording.
func (r *Router) resolveAll(ctx context.Context, addresses []string) ([]model.ClientID, []model.ClientState) {
	var targets []model.ClientID
	var states []model.ClientState

	for _, addr := range addresses {
		if raw, appID, ok := address.ParseExternal(addr); ok {
			if id, found := r.topology.ExternalClient(appID, raw); found {
				targets = append(targets, id)
				states = append(states, model.ClientState{External: &model.ExternalState{Address: raw, AppID: appID}})
			}
			continue
		}

		browserAddrs, err := r.resolver.Resolve(ctx, addr)
		if err != nil {
			logging.Warn(ctx, "address resolution failed", zap.String("address", addr), zap.Error(err))
			continue
		}
		for _, ba := range browserAddrs {
			for _, id := range r.topology.RoomOccupants(ba.ProjectID, ba.RoleID) {
				targets = append(targets, id)
				states = append(states, model.ClientState{Browser: &model.BrowserState{ProjectID: ba.ProjectID, RoleID: ba.RoleID}})
			}
		}
	}
	return targets, states
}

// recordIfTracing persists one SentMessage per distinct project_id
// involved that currently has an open trace (step 3).
func (r *Router) recordIfTracing(ctx context.Context, sender model.ClientID, recipients []model.ClientState, content json.RawMessage) {
	projects := make(map[model.ProjectID]bool)
	var senderState model.ClientState
	if st, ok := r.topology.ClientState(sender); ok {
		senderState = st
		if b := st.Browser; b != nil {
			projects[b.ProjectID] = true
		}
	}
	for _, st := range recipients {
		if b := st.Browser; b != nil {
			projects[b.ProjectID] = true
		}
	}

	now := time.Now()
	for pid := range projects {
		proj, err := r.metadata.GetProject(ctx, pid)
		if err != nil {
			continue
		}
		if !trace.HasOpenTrace(proj) {
			continue
		}
		msg := model.SentMessage{
			ProjectID:  pid,
			Source:     senderState,
			Recipients: recipients,
			Content:    content,
			Time:       now,
		}
		if err := r.metadata.RecordMessage(ctx, msg); err != nil {
			logging.Warn(ctx, "trace recording failed, dropping", zap.String("project_id", string(pid)), zap.Error(err))
			continue
		}
		metrics.TraceMessagesRecorded.Inc()
	}
}
