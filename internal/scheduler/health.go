package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/telemetry"
	"crawl-scheduler/internal/workerapi"
)

// ProbeResult is the outcome of one health probe. Backlog is meaningless
// when Reachable is false.
type ProbeResult struct {
	Node      models.Node
	Reachable bool
	Backlog   int
	Err       error
}

// Tracker probes workers and owns every node status write.
type Tracker struct {
	store   store.Store
	clients workerapi.Factory
	log     zerolog.Logger
}

// NewTracker creates a node health tracker.
func NewTracker(st store.Store, clients workerapi.Factory) *Tracker {
	return &Tracker{store: st, clients: clients, log: logging.WithComponent("health")}
}

// Probe asks the node for its daemon status. Any failure marks the node
// Offline. Success never promotes a node back to Online.
func (t *Tracker) Probe(ctx context.Context, node models.Node) ProbeResult {
	st, err := t.clients(node).Health(ctx)
	if err != nil {
		telemetry.ProbeFailures.Inc()
		t.MarkOffline(ctx, node, err)
		return ProbeResult{Node: node, Err: err}
	}
	return ProbeResult{Node: node, Reachable: true, Backlog: int(st.Pending)}
}

// MarkOffline persists the Online -> Offline transition. Nodes already
// Offline or Disabled are left untouched so a pass writes each node at most once.
// Failures seen after ctx ended are the caller's cancellation, not the node's.
func (t *Tracker) MarkOffline(ctx context.Context, node models.Node, cause error) {
	if node.Status != models.NodeOnline || ctx.Err() != nil {
		return
	}
	log := withPass(ctx, t.log)
	if err := t.store.UpdateNodeStatus(ctx, node.ID, models.NodeOffline); err != nil {
		log.Error().Err(err).Int64("node_id", node.ID).Msg("failed to persist node offline")
		return
	}
	telemetry.NodeTransition.WithLabelValues(models.NodeOffline.String()).Inc()
	ev := log.Warn().
		Int64("node_id", node.ID).
		Stringer("from", node.Status).
		Stringer("to", models.NodeOffline).
		AnErr("cause", cause)
	if payload := workerapi.PayloadOf(cause); payload != "" {
		ev = ev.Str("payload", payload)
	}
	ev.Msg("node status changed")
}
