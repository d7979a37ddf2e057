package models

import (
	"fmt"
	"strings"
)

// JobStatus is the persisted lifecycle state of a crawl job.
type JobStatus int

const (
	JobCreated JobStatus = iota
	JobPending
	JobRunning
	JobFinished
)

var jobStatusNames = map[JobStatus]string{
	JobCreated:  "created",
	JobPending:  "pending",
	JobRunning:  "running",
	JobFinished: "finished",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("job_status(%d)", int(s))
}

// Valid reports whether s is one of the known job states.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusNames[s]
	return ok
}

// jobTransitions lists, per source state, every state a job may be written to.
// Pending/Running -> Created is the reconciliation reset.
var jobTransitions = map[JobStatus][]JobStatus{
	JobCreated:  {JobPending},
	JobPending:  {JobPending, JobRunning, JobFinished, JobCreated},
	JobRunning:  {JobRunning, JobFinished, JobCreated},
	JobFinished: {JobFinished},
}

// CanTransition reports whether a job in state s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobStatus accepts either the state name or its persisted integer form.
func ParseJobStatus(v string) (JobStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range jobStatusNames {
		if name == v || fmt.Sprint(int(s)) == v {
			return s, nil
		}
	}
	return 0, &ConfigurationError{Field: "job status", Value: v}
}

// TaskStatus is the state of the upstream task owning a job. It is read-only here.
type TaskStatus string

const (
	TaskReady    TaskStatus = "ready"
	TaskRunning  TaskStatus = "running"
	TaskPaused   TaskStatus = "paused"
	TaskFinished TaskStatus = "finished"
)

// ParseTaskStatus rejects anything outside the four known task states.
func ParseTaskStatus(v string) (TaskStatus, error) {
	switch s := TaskStatus(strings.ToLower(strings.TrimSpace(v))); s {
	case TaskReady, TaskRunning, TaskPaused, TaskFinished:
		return s, nil
	}
	return "", &ConfigurationError{Field: "task status", Value: v}
}

// Dispatchable reports whether jobs of a task in this state may be submitted.
func (s TaskStatus) Dispatchable() bool {
	return s == TaskReady || s == TaskRunning
}

// Job is one unit of crawl work tracked through Created -> Pending -> Running -> Finished.
type Job struct {
	ID                 string     `json:"id"`
	Project            string     `json:"project"`
	Spider             string     `json:"spider"`
	Settings           string     `json:"settings"`
	Arguments          string     `json:"arguments"`
	NodeID             *int64     `json:"node_id,omitempty"`
	Status             JobStatus  `json:"status"`
	UpstreamTaskStatus TaskStatus `json:"upstream_task_status"`
	UpstreamTaskID     int64      `json:"upstream_task_id"`
}

func (j Job) String() string {
	return fmt.Sprintf("[Job_%s]", j.ID)
}

// MarshalText lets statuses render by name in JSON and logs.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
