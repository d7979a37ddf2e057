package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"crawl-scheduler/internal/deploy"
	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/scheduler"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/telemetry"
	"crawl-scheduler/internal/workerapi"
)

const maxUploadBytes = 64 << 20

// Deployer is the package fan-out the API exposes.
type Deployer interface {
	Deploy(ctx context.Context, project, version string, src deploy.Source) (deploy.Report, error)
	Undeploy(ctx context.Context, project string) (deploy.Report, error)
	DeleteVersion(ctx context.Context, project, version string) (deploy.Report, error)
}

// Server wires HTTP handlers for the admin API. It reads the store and
// forwards operator actions to workers; status writes stay with the loop.
type Server struct {
	store    store.Store
	clients  workerapi.Factory
	tracker  *scheduler.Tracker
	deployer Deployer
	log      zerolog.Logger
}

// New constructs the API server.
func New(st store.Store, clients workerapi.Factory, t *scheduler.Tracker, d Deployer) *Server {
	return &Server{
		store:    st,
		clients:  clients,
		tracker:  t,
		deployer: d,
		log:      logging.WithComponent("api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/nodes", s.handleListNodes)
	r.Route("/nodes/{id}/projects", func(r chi.Router) {
		r.Get("/", s.handleNodeProjects)
		r.Get("/{project}/versions", s.handleNodeVersions)
		r.Get("/{project}/spiders", s.handleNodeSpiders)
	})

	r.Get("/jobs", s.handleListJobs)
	r.Post("/jobs/{id}/cancel", s.handleCancel)

	r.Post("/projects/{project}/versions", s.handleDeploy)
	r.Delete("/projects/{project}", s.handleUndeploy)
	r.Delete("/projects/{project}/versions/{version}", s.handleDeleteVersion)
	return r
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var filter *models.NodeStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := models.ParseNodeStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter = &st
	}
	nodes, err := s.store.ListNodes(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	st, err := models.ParseJobStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}
	jobs, err := s.store.ListJobs(r.Context(), st, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// node resolves the {id} path parameter to a stored node.
func (s *Server) node(w http.ResponseWriter, r *http.Request) (models.Node, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("node id must be an integer"))
		return models.Node{}, false
	}
	n, err := s.store.GetNode(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return models.Node{}, false
	}
	return n, true
}

func (s *Server) handleNodeProjects(w http.ResponseWriter, r *http.Request) {
	n, ok := s.node(w, r)
	if !ok {
		return
	}
	projects, err := s.clients(n).ListProjects(r.Context())
	s.writeWorkerResult(w, r, n, map[string]any{"node_id": n.ID, "projects": projects}, err)
}

func (s *Server) handleNodeVersions(w http.ResponseWriter, r *http.Request) {
	n, ok := s.node(w, r)
	if !ok {
		return
	}
	project := chi.URLParam(r, "project")
	versions, err := s.clients(n).ListVersions(r.Context(), project)
	s.writeWorkerResult(w, r, n, map[string]any{"node_id": n.ID, "project": project, "versions": versions}, err)
}

func (s *Server) handleNodeSpiders(w http.ResponseWriter, r *http.Request) {
	n, ok := s.node(w, r)
	if !ok {
		return
	}
	project := chi.URLParam(r, "project")
	spiders, err := s.clients(n).ListSpiders(r.Context(), project, r.URL.Query().Get("version"))
	s.writeWorkerResult(w, r, n, map[string]any{"node_id": n.ID, "project": project, "spiders": spiders}, err)
}

func (s *Server) writeWorkerResult(w http.ResponseWriter, r *http.Request, n models.Node, body any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}
	if workerapi.IsTransport(err) {
		s.tracker.MarkOffline(r.Context(), n, err)
	}
	writeError(w, http.StatusBadGateway, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prev, err := scheduler.Cancel(r.Context(), s.store, s.clients, s.tracker, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "prev_status": prev})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, scheduler.ErrNotAssigned):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, _, err := r.FormFile("egg")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("multipart field egg is required"))
		return
	}
	defer f.Close()
	pkg, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.deployer.Deploy(r.Context(), chi.URLParam(r, "project"), r.FormValue("version"), deploy.Bytes(pkg))
	writeReport(w, rep, err)
}

func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deployer.Undeploy(r.Context(), chi.URLParam(r, "project"))
	writeReport(w, rep, err)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deployer.DeleteVersion(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "version"))
	writeReport(w, rep, err)
}

func writeReport(w http.ResponseWriter, rep deploy.Report, err error) {
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	code := http.StatusOK
	if rep.Failed() > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, rep)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	body := map[string]string{"error": err.Error()}
	if payload := workerapi.PayloadOf(err); payload != "" {
		body["payload"] = payload
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
