package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
)

// Postgres wraps pgxpool for node and job persistence. Rows holding an
// unknown status are left out of listings and fail single-row reads with a
// ConfigurationError.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a pooled connection to Postgres and verifies it is reachable.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, log: logging.WithComponent("store")}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const nodeColumns = `id, host, port, username, password, status`

// ListNodes returns nodes ordered by id, optionally filtered by status.
func (s *Postgres) ListNodes(ctx context.Context, status *models.NodeStatus) ([]models.Node, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = s.pool.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE status = $1 ORDER BY id`, int16(*status))
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if isConfigErr(err) {
			s.log.Warn().Err(err).Int64("node_id", n.ID).Msg("skipping node with unknown status")
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// GetNode fetches a node by id.
func (s *Postgres) GetNode(ctx context.Context, id int64) (models.Node, error) {
	n, err := scanNode(s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, err
}

// UpdateNodeStatus sets a node's health status.
func (s *Postgres) UpdateNodeStatus(ctx context.Context, id int64, status models.NodeStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE nodes SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, int16(status))
	if err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return nil
}

// Jobs are read joined with their upstream task, which owns project, spider and settings.
const jobSelect = `
	SELECT j.id, t.project, t.spider, t.settings, j.arguments, j.node_id, j.status, t.status, j.task_id
	FROM jobs j
	JOIN tasks t ON t.id = j.task_id
`

// ListJobs returns jobs in the given state, oldest first.
func (s *Postgres) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	query := jobSelect + ` WHERE j.status = $1 ORDER BY j.created_at, j.id`
	args := []any{int16(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if isConfigErr(err) {
			s.log.Warn().Err(err).Str("job_id", j.ID).Msg("skipping job with unknown status")
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, jobSelect+` WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// UpdateJobStatus sets a job's lifecycle status.
func (s *Postgres) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, int16(status))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateJobAssignment records the node a job was submitted to.
func (s *Postgres) UpdateJobAssignment(ctx context.Context, id string, nodeID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET node_id = $2, updated_at = NOW() WHERE id = $1
	`, id, nodeID)
	if err != nil {
		return fmt.Errorf("update job node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanNode(row pgx.Row) (models.Node, error) {
	var (
		n      models.Node
		status int16
	)
	err := row.Scan(&n.ID, &n.Host, &n.Port, &n.Username, &n.Password, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Node{}, err
		}
		return models.Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.Status, err = nodeStatusOf(status)
	return n, err
}

// scanJob validates the job status but leaves the upstream task status to the
// dispatcher, which rejects unknown values per job.
func scanJob(row pgx.Row) (models.Job, error) {
	var (
		j          models.Job
		nodeID     pgtype.Int8
		status     int16
		taskStatus string
	)
	err := row.Scan(&j.ID, &j.Project, &j.Spider, &j.Settings, &j.Arguments, &nodeID, &status, &taskStatus, &j.UpstreamTaskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if nodeID.Valid {
		id := nodeID.Int64
		j.NodeID = &id
	}
	j.UpstreamTaskStatus = models.TaskStatus(taskStatus)
	j.Status, err = jobStatusOf(status)
	return j, err
}

func nodeStatusOf(v int16) (models.NodeStatus, error) {
	if s := models.NodeStatus(v); s.Valid() {
		return s, nil
	}
	return 0, &models.ConfigurationError{Field: "node status", Value: strconv.Itoa(int(v))}
}

func jobStatusOf(v int16) (models.JobStatus, error) {
	if s := models.JobStatus(v); s.Valid() {
		return s, nil
	}
	return 0, &models.ConfigurationError{Field: "job status", Value: strconv.Itoa(int(v))}
}

func isConfigErr(err error) bool {
	var cfgErr *models.ConfigurationError
	return errors.As(err, &cfgErr)
}

var _ Store = (*Postgres)(nil)
