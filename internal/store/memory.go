package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crawl-scheduler/internal/models"
)

// Memory is a thread-safe in-process Store used by tests and local runs.
// Jobs keep insertion order as their creation order.
type Memory struct {
	mu     sync.RWMutex
	nodes  map[int64]models.Node
	jobs   map[string]models.Job
	order  []string
	writes int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nodes: map[int64]models.Node{}, jobs: map[string]models.Job{}}
}

// WriteCount returns how many status or assignment writes have been applied.
func (m *Memory) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// PutNode inserts or replaces a node.
func (m *Memory) PutNode(n models.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
}

// PutJob inserts or replaces a job. New ids are appended to the creation order.
func (m *Memory) PutJob(j models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		m.order = append(m.order, j.ID)
	}
	m.jobs[j.ID] = j
}

func (m *Memory) ListNodes(_ context.Context, status *models.NodeStatus) ([]models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if status == nil || n.Status == *status {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetNode(_ context.Context, id int64) (models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return models.Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n, nil
}

func (m *Memory) UpdateNodeStatus(_ context.Context, id int64, status models.NodeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	n.Status = status
	m.nodes[id] = n
	m.writes++
	return nil
}

func (m *Memory) ListJobs(_ context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Job, 0)
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status != status {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (m *Memory) UpdateJobStatus(_ context.Context, id string, status models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	j.Status = status
	m.jobs[id] = j
	m.writes++
	return nil
}

func (m *Memory) UpdateJobAssignment(_ context.Context, id string, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	j.NodeID = &nodeID
	m.jobs[id] = j
	m.writes++
	return nil
}

var _ Store = (*Memory)(nil)
