package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crawl-scheduler/internal/api"
	"crawl-scheduler/internal/deploy"
	"crawl-scheduler/internal/lease"
	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/ratelimit"
	"crawl-scheduler/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop and the admin API",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	log := logging.WithComponent("main")

	if err := e.store.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	dopts := scheduler.DispatcherOptions{BatchSize: e.cfg.DispatchBatchSize, PersistURI: e.cfg.PersistURI}
	lopts := scheduler.LoopOptions{Interval: e.cfg.PollInterval, ProbeConcurrency: e.cfg.ProbeConcurrency}
	if e.cfg.RedisAddr != "" {
		rdb := lease.NewClient(e.cfg)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		l := lease.New(rdb, e.cfg.LeaseKey, e.cfg.LeaseTTL)
		lopts.Locker = l
		lopts.RenewEvery = e.cfg.LeaseRenewEvery()
		log.Info().Str("key", e.cfg.LeaseKey).Str("owner", l.Owner()).Dur("renew_every", lopts.RenewEvery).Msg("pass lease enabled")
		if e.cfg.ThrottleEnabled() {
			dopts.Throttle = ratelimit.NewTokenBucket(rdb, e.cfg.SubmitRateCapacity, e.cfg.SubmitRatePerSec, time.Hour)
			log.Info().Int("capacity", e.cfg.SubmitRateCapacity).Float64("per_sec", e.cfg.SubmitRatePerSec).Msg("submit throttle enabled")
		}
	}

	loop := scheduler.NewLoop(
		e.store,
		e.tracker,
		scheduler.NewReconciler(e.store, e.clients, e.tracker),
		scheduler.NewDispatcher(e.store, e.clients, e.tracker, dopts),
		lopts,
	)

	var httpServer *http.Server
	if e.cfg.HTTPAddr != "" {
		server := api.New(e.store, e.clients, e.tracker, deploy.NewDeployer(e.store, e.clients, e.tracker))
		httpServer = &http.Server{
			Addr:              e.cfg.HTTPAddr,
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", e.cfg.HTTPAddr).Msg("admin api listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin api stopped")
				cancel()
			}
		}()
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("control loop exited")
	}

	if httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	log.Info().Msg("shutdown complete")
	return nil
}
