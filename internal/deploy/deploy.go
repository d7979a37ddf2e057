package deploy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"crawl-scheduler/internal/logging"
	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/scheduler"
	"crawl-scheduler/internal/store"
	"crawl-scheduler/internal/workerapi"
)

// NodeResult is the outcome of one deployment call on one node.
type NodeResult struct {
	NodeID  int64  `json:"node_id"`
	OK      bool   `json:"ok"`
	Spiders int    `json:"spiders,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report collects the per-node results of a fan-out operation.
type Report struct {
	Project string       `json:"project"`
	Version string       `json:"version,omitempty"`
	Nodes   []NodeResult `json:"nodes"`
}

// Failed counts nodes that did not accept the operation.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Nodes {
		if !res.OK {
			n++
		}
	}
	return n
}

// Deployer pushes project packages to every Online worker.
type Deployer struct {
	store   store.Store
	clients workerapi.Factory
	tracker *scheduler.Tracker
	now     func() time.Time
	log     zerolog.Logger
}

func NewDeployer(st store.Store, clients workerapi.Factory, t *scheduler.Tracker) *Deployer {
	return &Deployer{store: st, clients: clients, tracker: t, now: time.Now, log: logging.WithComponent("deploy")}
}

// Deploy uploads the package from src to every Online node. An empty version
// defaults to the current unix timestamp.
func (d *Deployer) Deploy(ctx context.Context, project, version string, src Source) (Report, error) {
	if project == "" {
		return Report{}, fmt.Errorf("project is required")
	}
	if version == "" {
		version = strconv.FormatInt(d.now().Unix(), 10)
	}
	pkg, err := src.Open(ctx)
	if err != nil {
		return Report{}, err
	}
	d.log.Info().Str("project", project).Str("version", version).Stringer("source", src).Int("bytes", len(pkg)).Msg("deploying package")

	return d.fanOut(ctx, "addversion", Report{Project: project, Version: version}, func(c workerapi.Client) (int, error) {
		return c.Deploy(ctx, project, version, pkg)
	})
}

// Undeploy removes a project from every Online node.
func (d *Deployer) Undeploy(ctx context.Context, project string) (Report, error) {
	if project == "" {
		return Report{}, fmt.Errorf("project is required")
	}
	return d.fanOut(ctx, "delproject", Report{Project: project}, func(c workerapi.Client) (int, error) {
		return 0, c.Undeploy(ctx, project)
	})
}

// DeleteVersion removes one project version from every Online node.
func (d *Deployer) DeleteVersion(ctx context.Context, project, version string) (Report, error) {
	if project == "" || version == "" {
		return Report{}, fmt.Errorf("project and version are required")
	}
	return d.fanOut(ctx, "delversion", Report{Project: project, Version: version}, func(c workerapi.Client) (int, error) {
		return 0, c.DeleteVersion(ctx, project, version)
	})
}

func (d *Deployer) fanOut(ctx context.Context, op string, rep Report, call func(workerapi.Client) (int, error)) (Report, error) {
	nodes, err := d.store.ListNodes(ctx, store.StatusPtr(models.NodeOnline))
	if err != nil {
		return rep, fmt.Errorf("list online nodes: %w", err)
	}
	rep.Nodes = make([]NodeResult, 0, len(nodes))
	for _, node := range nodes {
		spiders, err := call(d.clients(node))
		res := NodeResult{NodeID: node.ID, OK: err == nil, Spiders: spiders}
		if err != nil {
			res.Error = err.Error()
			if workerapi.IsTransport(err) {
				d.tracker.MarkOffline(ctx, node, err)
			} else {
				d.log.Error().Err(err).Int64("node_id", node.ID).Str("op", op).
					Str("payload", workerapi.PayloadOf(err)).Msg("worker rejected request")
			}
		}
		rep.Nodes = append(rep.Nodes, res)
	}
	d.log.Info().Str("op", op).Str("project", rep.Project).Int("nodes", len(rep.Nodes)).Int("failed", rep.Failed()).Msg("fan-out complete")
	return rep, nil
}
