package scheduler

import (
	"context"
	"errors"
	"fmt"

	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/workerapi"
)

// ErrNotAssigned means the job has never been handed to a node.
var ErrNotAssigned = errors.New("job not assigned to a node")

// Cancel asks the job's assigned node to stop it and returns the state the
// node reported before cancelling. The stored status is left for the next
// reconciliation to update.
func Cancel(ctx context.Context, st store.Store, clients workerapi.Factory, t *Tracker, jobID string) (models.JobStatus, error) {
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.NodeID == nil || job.Status == models.JobCreated {
		return 0, fmt.Errorf("%s: %w", job, ErrNotAssigned)
	}
	node, err := st.GetNode(ctx, *job.NodeID)
	if err != nil {
		return 0, err
	}
	prev, err := clients(node).Cancel(ctx, job.Project, job.ID)
	if err != nil {
		if workerapi.IsTransport(err) {
			t.MarkOffline(ctx, node, err)
		}
		return 0, fmt.Errorf("cancel %s on %s: %w", job, node, err)
	}
	log := withPass(ctx, t.log)
	log.Info().Str("job_id", job.ID).Int64("node_id", node.ID).Stringer("prev", prev).Msg("job cancelled on worker")
	return prev, nil
}
