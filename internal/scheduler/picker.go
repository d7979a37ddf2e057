package scheduler

import (
	"context"
	"errors"
	"fmt"

	"crawl-scheduler/internal/models"
)

// ErrNoAvailableWorker means no candidate node answered its health probe.
var ErrNoAvailableWorker = errors.New("no available worker")

// Picker selects the reachable node with the smallest pending backlog.
type Picker struct {
	tracker *Tracker
}

func NewPicker(t *Tracker) *Picker {
	return &Picker{tracker: t}
}

// Pick probes every candidate in order. Unreachable nodes are marked Offline
// by the probe and dropped. Ties keep the earliest node.
func (p *Picker) Pick(ctx context.Context, candidates []models.Node) (models.Node, int, error) {
	var (
		picked  models.Node
		backlog int
		found   bool
	)
	for _, node := range candidates {
		res := p.tracker.Probe(ctx, node)
		if !res.Reachable {
			continue
		}
		if !found || res.Backlog < backlog {
			picked, backlog, found = node, res.Backlog, true
		}
	}
	if !found {
		return models.Node{}, 0, fmt.Errorf("%d candidates probed: %w", len(candidates), ErrNoAvailableWorker)
	}
	return picked, backlog, nil
}
