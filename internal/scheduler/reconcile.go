package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/telemetry"
	"crawl-scheduler/internal/workerapi"
)

// ReconcileSummary counts what one reconciliation run did.
type ReconcileSummary struct {
	Jobs        int
	Updated     int
	Reset       int
	Rejected    int
	FailedNodes int
}

// Reconciler recomputes the status of every in-flight job from what the
// reachable workers currently report. It keeps no state between runs.
type Reconciler struct {
	store   store.Store
	clients workerapi.Factory
	tracker *Tracker
	log     zerolog.Logger
}

func NewReconciler(st store.Store, clients workerapi.Factory, t *Tracker) *Reconciler {
	return &Reconciler{store: st, clients: clients, tracker: t, log: logging.WithComponent("reconciler")}
}

// Reconcile runs one level-triggered pass over Pending and Running jobs.
// Jobs no reachable node reports for their project are reset to Created.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary
	log := withPass(ctx, r.log)

	jobs, err := r.inFlight(ctx)
	if err != nil {
		return sum, err
	}
	sum.Jobs = len(jobs)
	if len(jobs) == 0 {
		return sum, nil
	}

	nodes, err := r.store.ListNodes(ctx, store.StatusPtr(models.NodeOnline))
	if err != nil {
		return sum, fmt.Errorf("list online nodes: %w", err)
	}

	observed := make(map[string]models.JobStatus)
	failed := make(map[int64]bool)
	for _, project := range projectsOf(jobs) {
		for _, node := range nodes {
			if failed[node.ID] {
				continue
			}
			listing, err := r.clients(node).ListJobs(ctx, project)
			if cerr := passErr(ctx); cerr != nil {
				return sum, cerr
			}
			if err != nil {
				failed[node.ID] = true
				r.tracker.MarkOffline(ctx, node, err)
				log.Warn().Err(err).Int64("node_id", node.ID).Str("project", project).
					Str("payload", workerapi.PayloadOf(err)).Msg("list jobs failed, skipping node")
				continue
			}
			merge(observed, listing)
		}
	}
	sum.FailedNodes = len(failed)

	for _, job := range jobs {
		target, ok := observed[job.ID]
		if !ok {
			target = models.JobCreated
		}
		if target == job.Status {
			continue
		}
		jl := log.With().Str("job_id", job.ID).Stringer("from", job.Status).Stringer("to", target).Logger()
		if !job.Status.CanTransition(target) {
			sum.Rejected++
			jl.Warn().Msg("ignoring backwards job status report")
			continue
		}
		if err := r.store.UpdateJobStatus(ctx, job.ID, target); err != nil {
			jl.Error().Err(err).Msg("failed to persist job status")
			continue
		}
		telemetry.JobTransition.WithLabelValues(job.Status.String(), target.String()).Inc()
		if target == models.JobCreated {
			sum.Reset++
			jl.Warn().Interface("stale_node_id", job.NodeID).Msg("job missing from every reachable node, reset for dispatch")
			continue
		}
		sum.Updated++
		jl.Info().Msg("job status changed")
	}
	return sum, nil
}

func (r *Reconciler) inFlight(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	for _, s := range []models.JobStatus{models.JobPending, models.JobRunning} {
		batch, err := r.store.ListJobs(ctx, s, 0)
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", s, err)
		}
		jobs = append(jobs, batch...)
	}
	return jobs, nil
}

// projectsOf returns the distinct projects of jobs in a stable order so the
// last-node-wins merge is deterministic.
func projectsOf(jobs []models.Job) []string {
	seen := make(map[string]bool)
	var out []string
	for _, j := range jobs {
		if !seen[j.Project] {
			seen[j.Project] = true
			out = append(out, j.Project)
		}
	}
	sort.Strings(out)
	return out
}

// merge overlays one node's listing onto observed. A later write for the
// same id wins.
func merge(observed map[string]models.JobStatus, l workerapi.JobListing) {
	for _, e := range l.Pending {
		observed[e.ID] = models.JobPending
	}
	for _, e := range l.Running {
		observed[e.ID] = models.JobRunning
	}
	for _, e := range l.Finished {
		observed[e.ID] = models.JobFinished
	}
}
