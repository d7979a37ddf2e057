package store

import (
	"context"
	"errors"

	"crawl-scheduler/internal/models"
)

// ErrNotFound is returned when a node or job row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistent ledger of nodes and jobs. Every call is a single
// atomic row read or write; no transaction spans calls.
type Store interface {
	// ListNodes returns nodes ordered by id, optionally filtered by status.
	ListNodes(ctx context.Context, status *models.NodeStatus) ([]models.Node, error)
	GetNode(ctx context.Context, id int64) (models.Node, error)
	UpdateNodeStatus(ctx context.Context, id int64, status models.NodeStatus) error

	// ListJobs returns jobs in the given state, oldest first. limit <= 0 means no limit.
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error
	UpdateJobAssignment(ctx context.Context, id string, nodeID int64) error
}

// StatusPtr is a convenience for ListNodes filters.
func StatusPtr(s models.NodeStatus) *models.NodeStatus {
	return &s
}
