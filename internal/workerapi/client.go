package workerapi

import (
	"context"

	"crawl-scheduler/internal/models"
)

// Client is the job-control API of a single worker daemon. Every call fails
// with a *TransportError when the node cannot be reached and with an
// *ApplicationError when the daemon answers with a non-ok envelope.
type Client interface {
	Health(ctx context.Context) (DaemonStatus, error)
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Cancel(ctx context.Context, project, jobID string) (models.JobStatus, error)
	ListJobs(ctx context.Context, project string) (JobListing, error)
	Deploy(ctx context.Context, project, version string, pkg []byte) (int, error)
	Undeploy(ctx context.Context, project string) error

	ListProjects(ctx context.Context) ([]string, error)
	ListVersions(ctx context.Context, project string) ([]string, error)
	ListSpiders(ctx context.Context, project, version string) ([]string, error)
	DeleteVersion(ctx context.Context, project, version string) error
}

// Factory builds the client for a node.
type Factory func(node models.Node) Client
