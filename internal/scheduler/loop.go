package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/telemetry"
)

// ErrLeaseLost cancels a pass whose lease could not be renewed in time.
var ErrLeaseLost = errors.New("pass lease lost")

// Locker guards a pass against concurrent schedulers sharing one store.
// Acquire also extends a lease the caller already holds.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// PassResult is what a single control loop pass observed and changed.
type PassResult struct {
	ID        string
	Skipped   bool
	Reachable int
	Reconcile ReconcileSummary
	Dispatch  DispatchSummary
}

// Loop runs probe-all, reconcile and dispatch in sequence, then sleeps.
type Loop struct {
	store       store.Store
	tracker     *Tracker
	reconciler  *Reconciler
	dispatcher  *Dispatcher
	locker      Locker
	renewEvery  time.Duration
	interval    time.Duration
	concurrency int
	log         zerolog.Logger
}

// LoopOptions configures a Loop. Locker may be nil. RenewEvery must be well
// below the lease TTL; it defaults to 30s.
type LoopOptions struct {
	Interval         time.Duration
	ProbeConcurrency int
	Locker           Locker
	RenewEvery       time.Duration
}

func NewLoop(st store.Store, t *Tracker, r *Reconciler, d *Dispatcher, opts LoopOptions) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = 1
	}
	if opts.RenewEvery <= 0 {
		opts.RenewEvery = 30 * time.Second
	}
	return &Loop{
		store:       st,
		tracker:     t,
		reconciler:  r,
		dispatcher:  d,
		locker:      opts.Locker,
		renewEvery:  opts.RenewEvery,
		interval:    opts.Interval,
		concurrency: opts.ProbeConcurrency,
		log:         logging.WithComponent("loop"),
	}
}

// Run executes passes until ctx is cancelled. A failing pass is logged and
// the loop carries on after the usual sleep.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.interval).Int("probe_concurrency", l.concurrency).Msg("control loop started")
	for {
		if _, err := l.RunPass(ctx); err != nil {
			l.log.Error().Err(err).Msg("pass failed")
		}
		select {
		case <-ctx.Done():
			l.release()
			l.log.Info().Msg("control loop stopped")
			return ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

func (l *Loop) release() {
	if l.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.locker.Release(ctx); err != nil {
		l.log.Warn().Err(err).Msg("failed to release pass lease")
	}
}

// RunPass executes exactly one pass. Panics are recovered into the error.
func (l *Loop) RunPass(ctx context.Context) (res PassResult, err error) {
	res.ID = uuid.NewString()
	ctx = withPassID(ctx, res.ID)
	log := withPass(ctx, l.log)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
			log.Error().Str("stack", string(debug.Stack())).Msg("recovered from pass panic")
		}
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Skipped:
			outcome = "skipped"
		}
		telemetry.PassesTotal.WithLabelValues(outcome).Inc()
		telemetry.ObserveSince(telemetry.PassDuration, start)
	}()

	if l.locker != nil {
		ok, lerr := l.locker.Acquire(ctx)
		if lerr != nil {
			return res, fmt.Errorf("acquire pass lease: %w", lerr)
		}
		if !ok {
			res.Skipped = true
			log.Debug().Msg("pass lease held elsewhere, skipping")
			return res, nil
		}
		var stop func()
		ctx, stop = l.holdLease(ctx)
		defer stop()
	}

	reachable, err := l.probeAll(ctx)
	if err != nil {
		return res, err
	}
	res.Reachable = reachable
	if err := passErr(ctx); err != nil {
		return res, fmt.Errorf("after probe: %w", err)
	}

	if res.Reconcile, err = l.reconciler.Reconcile(ctx); err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	if err := passErr(ctx); err != nil {
		return res, fmt.Errorf("after reconcile: %w", err)
	}
	if res.Dispatch, err = l.dispatcher.Dispatch(ctx); err != nil {
		return res, fmt.Errorf("dispatch: %w", err)
	}

	log.Info().
		Int("reachable", res.Reachable).
		Int("in_flight", res.Reconcile.Jobs).
		Int("updated", res.Reconcile.Updated).
		Int("reset", res.Reconcile.Reset).
		Int("dispatched", res.Dispatch.Dispatched).
		Int("dispatch_failed", res.Dispatch.Failed).
		Dur("took", time.Since(start)).
		Msg("pass complete")
	return res, nil
}

// holdLease renews the pass lease in the background until stop is called.
// A failed renewal cancels the returned context with ErrLeaseLost, so the
// rest of the pass stops before a second replica can take over.
func (l *Loop) holdLease(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(l.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := l.locker.Acquire(ctx)
			if err == nil && ok {
				continue
			}
			cause := ErrLeaseLost
			if err != nil {
				cause = fmt.Errorf("%w: %v", ErrLeaseLost, err)
			}
			log := withPass(ctx, l.log)
			log.Error().Err(cause).Msg("pass lease renewal failed, abandoning pass")
			cancel(cause)
			return
		}
	}()
	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

// passErr reports why ctx ended, preferring the cancellation cause.
func passErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// probeAll probes every non-disabled node so Offline nodes that answer
// again are at least visible in the logs. Results are reported in node order.
func (l *Loop) probeAll(ctx context.Context) (int, error) {
	nodes, err := l.store.ListNodes(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list nodes: %w", err)
	}
	var targets []models.Node
	for _, n := range nodes {
		if n.Status != models.NodeDisabled {
			targets = append(targets, n)
		}
	}

	results := make([]ProbeResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, n := range targets {
		i, n := i, n
		g.Go(func() error {
			results[i] = l.tracker.Probe(gctx, n)
			return nil
		})
	}
	_ = g.Wait()

	log := withPass(ctx, l.log)
	reachable := 0
	for _, r := range results {
		if !r.Reachable {
			continue
		}
		if r.Node.Status == models.NodeOnline {
			reachable++
			log.Debug().Int64("node_id", r.Node.ID).Int("backlog", r.Backlog).Msg("node healthy")
			continue
		}
		log.Info().Int64("node_id", r.Node.ID).Stringer("status", r.Node.Status).Msg("node answered but stays offline until re-enabled")
	}
	telemetry.ReachableNodes.Set(float64(reachable))
	return reachable, nil
}
