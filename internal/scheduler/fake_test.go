package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/workerapi"
)

var errRefused = errors.New("connection refused")

// fakeWorker is an in-memory worker daemon. While down every call fails
// with a TransportError.
type fakeWorker struct {
	mu        sync.Mutex
	down      bool
	delay     time.Duration
	backlog   int
	listings  map[string]workerapi.JobListing
	submitErr error
	submitted []workerapi.SubmitRequest
	probes    int
	listCalls int
}

func (w *fakeWorker) transport(op string) error {
	return &workerapi.TransportError{Op: op, URL: "http://fake/", Err: errRefused}
}

func (w *fakeWorker) Health(ctx context.Context) (workerapi.DaemonStatus, error) {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return workerapi.DaemonStatus{}, &workerapi.TransportError{Op: "daemonstatus", URL: "http://fake/", Err: ctx.Err()}
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.probes++
	if w.down {
		return workerapi.DaemonStatus{}, w.transport("daemonstatus")
	}
	return workerapi.DaemonStatus{Pending: workerapi.Count(w.backlog)}, nil
}

func (w *fakeWorker) Submit(_ context.Context, req workerapi.SubmitRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return "", w.transport("schedule")
	}
	if w.submitErr != nil {
		return "", w.submitErr
	}
	w.submitted = append(w.submitted, req)
	w.backlog++
	return req.JobID, nil
}

func (w *fakeWorker) Cancel(context.Context, string, string) (models.JobStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return 0, w.transport("cancel")
	}
	return models.JobRunning, nil
}

func (w *fakeWorker) ListJobs(_ context.Context, project string) (workerapi.JobListing, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listCalls++
	if w.down {
		return workerapi.JobListing{}, w.transport("listjobs")
	}
	return w.listings[project], nil
}

func (w *fakeWorker) Deploy(context.Context, string, string, []byte) (int, error) { return 0, nil }
func (w *fakeWorker) Undeploy(context.Context, string) error                      { return nil }
func (w *fakeWorker) ListProjects(context.Context) ([]string, error)              { return nil, nil }
func (w *fakeWorker) ListVersions(context.Context, string) ([]string, error)      { return nil, nil }
func (w *fakeWorker) ListSpiders(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (w *fakeWorker) DeleteVersion(context.Context, string, string) error { return nil }

func (w *fakeWorker) submissions() []workerapi.SubmitRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workerapi.SubmitRequest(nil), w.submitted...)
}

func (w *fakeWorker) report(project string, l workerapi.JobListing) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listings == nil {
		w.listings = map[string]workerapi.JobListing{}
	}
	w.listings[project] = l
}

// cluster maps node ids to fake workers and owns the backing store.
type cluster struct {
	store   *store.Memory
	workers map[int64]*fakeWorker
}

func newCluster() *cluster {
	return &cluster{store: store.NewMemory(), workers: map[int64]*fakeWorker{}}
}

func (c *cluster) addNode(id int64, backlog int) *fakeWorker {
	w := &fakeWorker{backlog: backlog}
	c.workers[id] = w
	c.store.PutNode(models.Node{ID: id, Host: "10.0.0.1", Port: 6800, Status: models.NodeOnline})
	return w
}

func (c *cluster) factory() workerapi.Factory {
	return func(n models.Node) workerapi.Client {
		return c.workers[n.ID]
	}
}

func (c *cluster) addJob(id string, status models.JobStatus, task models.TaskStatus) {
	c.store.PutJob(models.Job{
		ID:                 id,
		Project:            "news",
		Spider:             "front",
		Status:             status,
		UpstreamTaskStatus: task,
		UpstreamTaskID:     7,
	})
}

func (c *cluster) job(id string) models.Job {
	j, err := c.store.GetJob(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return j
}

func (c *cluster) node(id int64) models.Node {
	n, err := c.store.GetNode(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return n
}

func entries(ids ...string) []workerapi.JobEntry {
	out := make([]workerapi.JobEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, workerapi.JobEntry{ID: id, Spider: "front"})
	}
	return out
}
