package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawl-scheduler/internal/deploy"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/scheduler"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/workerapi"
)

type stubWorker struct {
	workerapi.Client
	down     bool
	deployed []string
}

func (s *stubWorker) fail(op string) error {
	return &workerapi.TransportError{Op: op, URL: "http://stub/", Err: errors.New("connection refused")}
}

func (s *stubWorker) ListProjects(context.Context) ([]string, error) {
	if s.down {
		return nil, s.fail("listprojects")
	}
	return []string{"news", "shop"}, nil
}

func (s *stubWorker) ListVersions(_ context.Context, project string) ([]string, error) {
	return []string{"v1", "v2"}, nil
}

func (s *stubWorker) ListSpiders(_ context.Context, project, version string) ([]string, error) {
	if version == "v1" {
		return []string{"front"}, nil
	}
	return []string{"front", "archive"}, nil
}

func (s *stubWorker) Cancel(context.Context, string, string) (models.JobStatus, error) {
	return models.JobRunning, nil
}

func (s *stubWorker) Deploy(_ context.Context, project, version string, pkg []byte) (int, error) {
	s.deployed = append(s.deployed, project+"@"+version+":"+string(pkg))
	return 2, nil
}

func (s *stubWorker) Undeploy(context.Context, string) error { return nil }

func (s *stubWorker) DeleteVersion(context.Context, string, string) error {
	return &workerapi.ApplicationError{Op: "delversion", Status: "error", Message: "no such version", Payload: []byte(`{"status":"error"}`)}
}

type fixture struct {
	store   *store.Memory
	workers map[int64]*stubWorker
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), workers: map[int64]*stubWorker{}}
	f.store.PutNode(models.Node{ID: 1, Host: "10.0.0.1", Port: 6800, Status: models.NodeOnline, Password: "secret"})
	f.store.PutNode(models.Node{ID: 2, Host: "10.0.0.2", Port: 6800, Status: models.NodeDisabled})
	f.workers[1] = &stubWorker{}
	f.workers[2] = &stubWorker{}
	f.store.PutJob(models.Job{ID: "new", Project: "news", Spider: "front", Status: models.JobCreated})
	f.store.PutJob(models.Job{ID: "run", Project: "news", Spider: "front", Status: models.JobRunning})
	require.NoError(t, f.store.UpdateJobAssignment(context.Background(), "run", 1))

	factory := func(n models.Node) workerapi.Client { return f.workers[n.ID] }
	tracker := scheduler.NewTracker(f.store, factory)
	f.handler = New(f.store, factory, tracker, deploy.NewDeployer(f.store, factory, tracker)).Router()
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListNodes(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["nodes"], 2)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes?status=disabled", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, "disabled", nodes[0].(map[string]any)["status"])

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes?status=sleepy", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsRequiresStatus(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/jobs?status=running", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "run", jobs[0].(map[string]any)["id"])

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeProjectQueries(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/1/projects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"news", "shop"}, body["projects"])

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/1/projects/news/versions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"v1", "v2"}, body["versions"])

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/1/projects/news/spiders?version=v1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"front"}, body["spiders"])

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/9/projects", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/x/projects", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeQueryTransportFailureMarksOffline(t *testing.T) {
	f := newFixture(t)
	f.workers[1].down = true

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/nodes/1/projects", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	n, err := f.store.GetNode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, n.Status)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	writes := f.store.WriteCount()

	rec, body := f.do(t, httptest.NewRequest(http.MethodPost, "/jobs/run/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["prev_status"])
	assert.Equal(t, writes, f.store.WriteCount())

	rec, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/jobs/new/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/jobs/ghost/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployUpload(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("version", "v9"))
	part, err := mw.CreateFormFile("egg", "news.egg")
	require.NoError(t, err)
	_, _ = part.Write([]byte("EGG"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/projects/news/versions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec, body := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "v9", body["version"])
	assert.Equal(t, []string{"news@v9:EGG"}, f.workers[1].deployed)
	assert.Empty(t, f.workers[2].deployed)

	rec, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/projects/news/versions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndeployAndDeleteVersion(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, httptest.NewRequest(http.MethodDelete, "/projects/news", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "news", body["project"])

	rec, body = f.do(t, httptest.NewRequest(http.MethodDelete, "/projects/news/versions/v1", nil))
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	nodes := body["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, false, nodes[0].(map[string]any)["ok"])

	n, err := f.store.GetNode(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.NodeOnline, n.Status)
}
