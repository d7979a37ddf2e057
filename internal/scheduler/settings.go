package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/workerapi"
)

// reservedArgs are form fields the submit call sets itself.
var reservedArgs = map[string]bool{
	"project":  true,
	"spider":   true,
	"setting":  true,
	"jobid":    true,
	"_version": true,
}

// buildSubmit turns a stored job into the remote schedule request.
func buildSubmit(job models.Job, persistURI string) (workerapi.SubmitRequest, error) {
	args, err := parseArguments(job.Arguments)
	if err != nil {
		return workerapi.SubmitRequest{}, err
	}
	return workerapi.SubmitRequest{
		Project:   job.Project,
		Spider:    job.Spider,
		JobID:     job.ID,
		Settings:  buildSettings(job, persistURI),
		Arguments: args,
	}, nil
}

// buildSettings splits the stored blob into one KEY=VALUE pair per line and
// appends the pairs the worker needs to report results back. Values are
// passed through whole.
func buildSettings(job models.Job, persistURI string) []string {
	var out []string
	for _, line := range strings.Split(job.Settings, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if persistURI != "" {
		out = append(out, "PERSIST_URI="+persistURI)
	}
	return append(out,
		"SPIDER_NAME="+job.Spider,
		"TASK_ID="+strconv.FormatInt(job.UpstreamTaskID, 10),
		"JOB_ID="+job.ID,
	)
}

// parseArguments decodes the stored JSON object into form fields. Strings
// pass through, other scalars use their JSON text, nested values stay compact
// JSON and nulls are dropped.
func parseArguments(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, &models.ConfigurationError{Field: "job arguments", Value: raw, Cause: err}
	}
	if obj == nil {
		return nil, &models.ConfigurationError{Field: "job arguments", Value: raw, Cause: fmt.Errorf("not a JSON object")}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(obj))
	for _, k := range keys {
		if reservedArgs[k] {
			return nil, &models.ConfigurationError{Field: "job arguments", Value: raw, Cause: fmt.Errorf("reserved key %q", k)}
		}
		v := obj[k]
		if string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, &models.ConfigurationError{Field: "job arguments", Value: raw, Cause: err}
		}
		out[k] = buf.String()
	}
	return out, nil
}
