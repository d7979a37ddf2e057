package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crawl-scheduler/internal/deploy"
	"crawl-scheduler/internal/scheduler"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := e.store.RunMigrations(cmd.Context()); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		fmt.Println("✓ Migrations applied")
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Upload a project package to every online node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		project, _ := cmd.Flags().GetString("project")
		version, _ := cmd.Flags().GetString("version")
		file, _ := cmd.Flags().GetString("file")
		key, _ := cmd.Flags().GetString("s3-key")
		if (file == "") == (key == "") {
			return errors.New("exactly one of --file or --s3-key is required")
		}

		e, err := setup(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		var src deploy.Source = deploy.File(file)
		if key != "" {
			if src, err = deploy.NewS3Object(cmd.Context(), e.cfg, key); err != nil {
				return err
			}
		}
		rep, err := deploy.NewDeployer(e.store, e.clients, e.tracker).Deploy(cmd.Context(), project, version, src)
		if err != nil {
			return err
		}
		return printReport(rep)
	},
}

var undeployCmd = &cobra.Command{
	Use:   "undeploy",
	Short: "Remove a project from every online node",
	RunE: func(cmd *cobra.Command, _ []string) error {
		project, _ := cmd.Flags().GetString("project")
		e, err := setup(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		rep, err := deploy.NewDeployer(e.store, e.clients, e.tracker).Undeploy(cmd.Context(), project)
		if err != nil {
			return err
		}
		return printReport(rep)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a job on the node it was dispatched to",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		e, err := setup(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		prev, err := scheduler.Cancel(cmd.Context(), e.store, e.clients, e.tracker, jobID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job %s cancelled (was %s)\n", jobID, prev)
		return nil
	},
}

func init() {
	deployCmd.Flags().String("project", "", "Project name")
	deployCmd.Flags().String("version", "", "Package version (default: current unix time)")
	deployCmd.Flags().String("file", "", "Path to a local package")
	deployCmd.Flags().String("s3-key", "", "Object key in the package bucket")
	_ = deployCmd.MarkFlagRequired("project")

	undeployCmd.Flags().String("project", "", "Project name")
	_ = undeployCmd.MarkFlagRequired("project")

	cancelCmd.Flags().String("job", "", "Job id")
	_ = cancelCmd.MarkFlagRequired("job")
}

func printReport(rep deploy.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("%d of %d nodes failed", n, len(rep.Nodes))
	}
	return nil
}
