package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/telemetry"
	"crawl-scheduler/internal/workerapi"
)

// Throttle limits how fast jobs are submitted to a node.
type Throttle interface {
	AllowNode(ctx context.Context, nodeID int64) (bool, error)
}

// DispatchSummary counts what one dispatch run did with its batch.
type DispatchSummary struct {
	Batch      int
	Dispatched int
	Skipped    int
	Throttled  int
	Failed     int
	NoWorker   bool
	// Unpersisted jobs were accepted by a worker but their Pending status or
	// node assignment could not be written.
	Unpersisted int
}

// Dispatcher submits a bounded batch of Created jobs to the least busy node.
type Dispatcher struct {
	store      store.Store
	clients    workerapi.Factory
	picker     *Picker
	tracker    *Tracker
	throttle   Throttle
	batchSize  int
	persistURI string
	log        zerolog.Logger
}

// DispatcherOptions configures a Dispatcher. Throttle may be nil.
type DispatcherOptions struct {
	BatchSize  int
	PersistURI string
	Throttle   Throttle
}

func NewDispatcher(st store.Store, clients workerapi.Factory, t *Tracker, opts DispatcherOptions) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Dispatcher{
		store:      st,
		clients:    clients,
		picker:     NewPicker(t),
		tracker:    t,
		throttle:   opts.Throttle,
		batchSize:  opts.BatchSize,
		persistURI: opts.PersistURI,
		log:        logging.WithComponent("dispatcher"),
	}
}

// Dispatch attempts the oldest Created jobs, at most BatchSize of them.
// Running out of reachable workers ends the run early without an error.
func (d *Dispatcher) Dispatch(ctx context.Context) (DispatchSummary, error) {
	var sum DispatchSummary
	log := withPass(ctx, d.log)

	jobs, err := d.store.ListJobs(ctx, models.JobCreated, d.batchSize)
	if err != nil {
		return sum, fmt.Errorf("list created jobs: %w", err)
	}
	sum.Batch = len(jobs)

	for _, job := range jobs {
		if err := passErr(ctx); err != nil {
			return sum, err
		}
		jl := log.With().Str("job_id", job.ID).Str("project", job.Project).Logger()
		err := d.dispatchOne(ctx, jl, job)
		switch {
		case err == nil:
			sum.Dispatched++
			telemetry.DispatchTotal.WithLabelValues("dispatched").Inc()
		case errors.Is(err, errSkipped):
			sum.Skipped++
		case errors.Is(err, errThrottled):
			sum.Throttled++
			telemetry.DispatchTotal.WithLabelValues("throttled").Inc()
		case errors.Is(err, errNotPersisted):
			sum.Unpersisted++
			telemetry.DispatchTotal.WithLabelValues("unpersisted").Inc()
			jl.Error().Err(err).Msg("job submitted but its state was not fully persisted, reconciliation will correct it")
		case errors.Is(err, ErrNoAvailableWorker):
			sum.NoWorker = true
			telemetry.DispatchTotal.WithLabelValues("no_worker").Inc()
			jl.Warn().Err(err).Msg("no reachable worker, ending dispatch for this pass")
			return sum, nil
		default:
			sum.Failed++
			telemetry.DispatchTotal.WithLabelValues("failed").Inc()
			jl.Error().Err(err).Str("payload", workerapi.PayloadOf(err)).Msg("dispatch failed, job stays created")
		}
	}
	return sum, nil
}

var (
	errSkipped      = errors.New("upstream task not dispatchable")
	errThrottled    = errors.New("node submit budget exhausted")
	errNotPersisted = errors.New("submitted job not fully persisted")
)

func (d *Dispatcher) dispatchOne(ctx context.Context, log zerolog.Logger, job models.Job) error {
	taskStatus, err := models.ParseTaskStatus(string(job.UpstreamTaskStatus))
	if err != nil {
		return err
	}
	if !taskStatus.Dispatchable() {
		log.Debug().Str("task_status", string(taskStatus)).Msg("upstream task not ready, skipping")
		return errSkipped
	}

	req, err := buildSubmit(job, d.persistURI)
	if err != nil {
		return err
	}

	candidates, err := d.store.ListNodes(ctx, store.StatusPtr(models.NodeOnline))
	if err != nil {
		return fmt.Errorf("list online nodes: %w", err)
	}
	node, backlog, err := d.picker.Pick(ctx, candidates)
	if err != nil {
		return err
	}

	if d.throttle != nil {
		allowed, err := d.throttle.AllowNode(ctx, node.ID)
		if err != nil {
			log.Warn().Err(err).Int64("node_id", node.ID).Msg("throttle unavailable, submitting anyway")
		} else if !allowed {
			log.Info().Int64("node_id", node.ID).Msg("node submit budget exhausted, retrying next pass")
			return errThrottled
		}
	}

	if _, err := d.clients(node).Submit(ctx, req); err != nil {
		if workerapi.IsTransport(err) {
			d.tracker.MarkOffline(ctx, node, err)
		}
		return fmt.Errorf("submit to node %d: %w", node.ID, err)
	}

	// the job now runs remotely; record it even if the pass is being cancelled
	wctx := context.WithoutCancel(ctx)
	if err := d.store.UpdateJobStatus(wctx, job.ID, models.JobPending); err != nil {
		return fmt.Errorf("%w: pending status after submit to node %d: %v", errNotPersisted, node.ID, err)
	}
	telemetry.JobTransition.WithLabelValues(job.Status.String(), models.JobPending.String()).Inc()
	log.Info().
		Int64("node_id", node.ID).
		Int("backlog", backlog).
		Stringer("from", job.Status).
		Stringer("to", models.JobPending).
		Msg("job status changed")
	if err := d.store.UpdateJobAssignment(wctx, job.ID, node.ID); err != nil {
		return fmt.Errorf("%w: assignment to node %d: %v", errNotPersisted, node.ID, err)
	}
	return nil
}
