package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crawl-scheduler/internal/config"
	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/scheduler"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/workerapi"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Crawl job scheduler",
	Long: `Keeps crawl jobs in step with a fleet of crawler daemons.

Each pass probes every worker node, reconciles in-flight jobs against
what the workers report, and dispatches new jobs to the least busy node.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("scheduler %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "", "YAML file overlaid on the environment configuration")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(undeployCmd)
	rootCmd.AddCommand(cancelCmd)
}

// env is what every subcommand needs: validated config, an open store and
// the worker client factory.
type env struct {
	cfg     config.Config
	store   *store.Postgres
	clients workerapi.Factory
	tracker *scheduler.Tracker
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.Load()
		return cfg, cfg.Validate()
	}
	return config.LoadFile(path)
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	clients := workerapi.NewFactory(workerapi.Options{
		HealthTimeout:  cfg.HealthTimeout,
		RequestTimeout: cfg.RequestTimeout,
		DeployTimeout:  cfg.DeployTimeout,
	})
	return &env{cfg: cfg, store: st, clients: clients, tracker: scheduler.NewTracker(st, clients)}, nil
}
