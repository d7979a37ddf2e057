package workerapi

import (
	"bytes"
	"fmt"
	"strconv"
)

// Count decodes counters the daemon may send either as numbers or numeric strings.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("decode count %q: %w", b, err)
	}
	*c = Count(n)
	return nil
}

// envelope is embedded in every response body.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (e envelope) ok() bool { return e.Status == "ok" }

// DaemonStatus is the daemonstatus.json payload.
type DaemonStatus struct {
	Pending  Count  `json:"pending"`
	Running  Count  `json:"running"`
	Finished Count  `json:"finished"`
	NodeName string `json:"node_name"`
}

// SubmitRequest carries a single schedule call. Settings are KEY=VALUE pairs,
// each sent as its own form value. Arguments become extra form fields.
type SubmitRequest struct {
	Project   string
	Spider    string
	JobID     string
	Version   string
	Settings  []string
	Arguments map[string]string
}

// JobEntry is one row of a listjobs.json section.
type JobEntry struct {
	ID        string `json:"id"`
	Spider    string `json:"spider"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// JobListing groups a project's jobs on one node by remote state.
type JobListing struct {
	Pending  []JobEntry `json:"pending"`
	Running  []JobEntry `json:"running"`
	Finished []JobEntry `json:"finished"`
}

type daemonStatusResp struct {
	envelope
	DaemonStatus
}

type scheduleResp struct {
	envelope
	JobID string `json:"jobid"`
}

type cancelResp struct {
	envelope
	PrevState string `json:"prevstate"`
}

type listJobsResp struct {
	envelope
	JobListing
}

type addVersionResp struct {
	envelope
	Spiders Count `json:"spiders"`
}

type listProjectsResp struct {
	envelope
	Projects []string `json:"projects"`
}

type listVersionsResp struct {
	envelope
	Versions []string `json:"versions"`
}

type listSpidersResp struct {
	envelope
	Spiders []string `json:"spiders"`
}

// enveloped lets the transport check the status field of any response type.
type enveloped interface {
	env() envelope
}

func (e envelope) env() envelope { return e }
