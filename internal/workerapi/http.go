package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crawl-scheduler/internal/models"
)

// Options bounds every remote call. A node that never answers costs at most
// the matching timeout.
type Options struct {
	HealthTimeout  time.Duration
	RequestTimeout time.Duration
	DeployTimeout  time.Duration
	Transport      http.RoundTripper
}

func (o Options) withDefaults() Options {
	if o.HealthTimeout == 0 {
		o.HealthTimeout = 3 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.DeployTimeout == 0 {
		o.DeployTimeout = time.Minute
	}
	return o
}

// HTTPClient talks JSON over HTTP to one daemon using its basic-auth credentials.
type HTTPClient struct {
	base     string
	username string
	password string
	opts     Options
	hc       *http.Client
}

// NewHTTPClient builds a client for the node's endpoint.
func NewHTTPClient(node models.Node, opts Options) *HTTPClient {
	opts = opts.withDefaults()
	return &HTTPClient{
		base:     node.BaseURL(),
		username: node.Username,
		password: node.Password,
		opts:     opts,
		hc:       &http.Client{Transport: opts.Transport},
	}
}

// NewFactory returns a Factory producing HTTP clients with shared options.
func NewFactory(opts Options) Factory {
	return func(node models.Node) Client {
		return NewHTTPClient(node, opts)
	}
}

// Health calls daemonstatus.json.
func (c *HTTPClient) Health(ctx context.Context) (DaemonStatus, error) {
	var resp daemonStatusResp
	if err := c.get(ctx, c.opts.HealthTimeout, "daemonstatus.json", nil, &resp); err != nil {
		return DaemonStatus{}, err
	}
	return resp.DaemonStatus, nil
}

// Submit calls schedule.json and returns the job id the daemon accepted.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	form := url.Values{}
	for k, v := range req.Arguments {
		form.Set(k, v)
	}
	form.Set("project", req.Project)
	form.Set("spider", req.Spider)
	for _, s := range req.Settings {
		form.Add("setting", s)
	}
	if req.JobID != "" {
		form.Set("jobid", req.JobID)
	}
	if req.Version != "" {
		form.Set("_version", req.Version)
	}
	var resp scheduleResp
	if err := c.postForm(ctx, "schedule.json", form, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Cancel calls cancel.json and maps the job's previous remote state.
func (c *HTTPClient) Cancel(ctx context.Context, project, jobID string) (models.JobStatus, error) {
	var resp cancelResp
	form := url.Values{"project": {project}, "job": {jobID}}
	if err := c.postForm(ctx, "cancel.json", form, &resp); err != nil {
		return 0, err
	}
	switch resp.PrevState {
	case "pending":
		return models.JobPending, nil
	case "running":
		return models.JobRunning, nil
	case "finished":
		return models.JobFinished, nil
	}
	return 0, &models.ConfigurationError{Field: "cancel prevstate", Value: resp.PrevState}
}

// ListJobs calls listjobs.json for one project.
func (c *HTTPClient) ListJobs(ctx context.Context, project string) (JobListing, error) {
	var resp listJobsResp
	if err := c.get(ctx, c.opts.RequestTimeout, "listjobs.json", url.Values{"project": {project}}, &resp); err != nil {
		return JobListing{}, err
	}
	return resp.JobListing, nil
}

// Deploy uploads a project package through addversion.json and returns the
// number of spiders the daemon found in it.
func (c *HTTPClient) Deploy(ctx context.Context, project, version string, pkg []byte) (int, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("project", project)
	_ = mw.WriteField("version", version)
	fw, err := mw.CreateFormFile("egg", project+".egg")
	if err != nil {
		return 0, fmt.Errorf("build deploy body: %w", err)
	}
	if _, err := fw.Write(pkg); err != nil {
		return 0, fmt.Errorf("build deploy body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("build deploy body: %w", err)
	}
	var resp addVersionResp
	if err := c.do(ctx, c.opts.DeployTimeout, http.MethodPost, "addversion.json", nil, body, mw.FormDataContentType(), &resp); err != nil {
		return 0, err
	}
	return int(resp.Spiders), nil
}

// Undeploy removes a project and all its versions through delproject.json.
func (c *HTTPClient) Undeploy(ctx context.Context, project string) error {
	var resp envelope
	return c.postForm(ctx, "delproject.json", url.Values{"project": {project}}, &resp)
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]string, error) {
	var resp listProjectsResp
	if err := c.get(ctx, c.opts.RequestTimeout, "listprojects.json", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *HTTPClient) ListVersions(ctx context.Context, project string) ([]string, error) {
	var resp listVersionsResp
	if err := c.get(ctx, c.opts.RequestTimeout, "listversions.json", url.Values{"project": {project}}, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

func (c *HTTPClient) ListSpiders(ctx context.Context, project, version string) ([]string, error) {
	q := url.Values{"project": {project}}
	if version != "" {
		q.Set("_version", version)
	}
	var resp listSpidersResp
	if err := c.get(ctx, c.opts.RequestTimeout, "listspiders.json", q, &resp); err != nil {
		return nil, err
	}
	return resp.Spiders, nil
}

func (c *HTTPClient) DeleteVersion(ctx context.Context, project, version string) error {
	var resp envelope
	return c.postForm(ctx, "delversion.json", url.Values{"project": {project}, "version": {version}}, &resp)
}

func (c *HTTPClient) get(ctx context.Context, timeout time.Duration, path string, query url.Values, out enveloped) error {
	return c.do(ctx, timeout, http.MethodGet, path, query, nil, "", out)
}

func (c *HTTPClient) postForm(ctx context.Context, path string, form url.Values, out enveloped) error {
	return c.do(ctx, c.opts.RequestTimeout, http.MethodPost, path, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

// do performs one bounded request, then checks transport success and the
// response envelope, in that order.
func (c *HTTPClient) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body io.Reader, contentType string, out enveloped) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &TransportError{Op: method, URL: u, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: u, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: method, URL: u, Err: fmt.Errorf("read body: %w", err)}
	}
	if res.StatusCode/100 != 2 {
		return &TransportError{Op: method, URL: u, Err: fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: method, URL: u, Err: fmt.Errorf("decode body: %w", err)}
	}
	if env := out.env(); !env.ok() {
		return &ApplicationError{Op: method, URL: u, Status: env.Status, Message: env.Message, Payload: raw}
	}
	return nil
}
