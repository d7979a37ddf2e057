package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobCreated, JobPending, true},
		{JobCreated, JobRunning, false},
		{JobCreated, JobFinished, false},
		{JobPending, JobRunning, true},
		{JobPending, JobFinished, true},
		{JobPending, JobCreated, true},
		{JobRunning, JobFinished, true},
		{JobRunning, JobCreated, true},
		{JobRunning, JobPending, false},
		{JobFinished, JobCreated, false},
		{JobFinished, JobRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	s, err := ParseJobStatus("Running")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, s)

	s, err = ParseJobStatus("3")
	require.NoError(t, err)
	assert.Equal(t, JobFinished, s)

	_, err = ParseJobStatus("cancelled")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "job status", cfgErr.Field)
}

func TestParseTaskStatus(t *testing.T) {
	for _, v := range []string{"ready", "running", "paused", "finished"} {
		s, err := ParseTaskStatus(v)
		require.NoError(t, err)
		assert.Equal(t, TaskStatus(v), s)
	}
	_, err := ParseTaskStatus("deleted")
	assert.Error(t, err)

	assert.True(t, TaskReady.Dispatchable())
	assert.True(t, TaskRunning.Dispatchable())
	assert.False(t, TaskPaused.Dispatchable())
	assert.False(t, TaskFinished.Dispatchable())
}

func TestNodeBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:6800/", Node{Host: "127.0.0.1", Port: 6800}.BaseURL())
	assert.Equal(t, "http://example.com:6800/", Node{Host: "example.com", Port: 6800}.BaseURL())
	assert.Equal(t, "[Node_0: online]", Node{}.String())
}

func TestJobJSONRendersStatusNames(t *testing.T) {
	b, err := json.Marshal(Job{ID: "id", Status: JobPending, UpstreamTaskStatus: TaskRunning})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"pending"`)
	assert.Equal(t, "[Job_id]", Job{ID: "id"}.String())
}

func TestNodeJSONOmitsCredentials(t *testing.T) {
	b, err := json.Marshal(Node{ID: 1, Username: "u", Password: "secret", Status: NodeOffline})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.Contains(t, string(b), `"status":"offline"`)
}
