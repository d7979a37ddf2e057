package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawl-scheduler/internal/models"
)

func TestBuildSettings(t *testing.T) {
	job := models.Job{ID: "j1", Spider: "front", UpstreamTaskID: 42, Settings: "DOWNLOAD_DELAY=2\n CONCURRENT_REQUESTS=4 \r\n\nLOG_LEVEL=INFO"}

	got := buildSettings(job, "")
	assert.Equal(t, []string{
		"DOWNLOAD_DELAY=2",
		"CONCURRENT_REQUESTS=4",
		"LOG_LEVEL=INFO",
		"SPIDER_NAME=front",
		"TASK_ID=42",
		"JOB_ID=j1",
	}, got)

	got = buildSettings(models.Job{ID: "j3", Spider: "s", Settings: "USER_AGENT=Mozilla/5.0 (X11; Linux x86_64)\nDEFAULT_REQUEST_HEADERS={\"Accept\": \"text/html;q=0.9\"}"}, "")
	assert.Equal(t, []string{
		"USER_AGENT=Mozilla/5.0 (X11; Linux x86_64)",
		`DEFAULT_REQUEST_HEADERS={"Accept": "text/html;q=0.9"}`,
		"SPIDER_NAME=s",
		"TASK_ID=0",
		"JOB_ID=j3",
	}, got)

	got = buildSettings(models.Job{ID: "j2", Spider: "s"}, "mongodb://results")
	assert.Equal(t, []string{"PERSIST_URI=mongodb://results", "SPIDER_NAME=s", "TASK_ID=0", "JOB_ID=j2"}, got)
}

func TestParseArguments(t *testing.T) {
	args, err := parseArguments(`{"q": "shoes", "pages": 3, "deep": true, "tags": ["a", "b"], "opt": null}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"q":     "shoes",
		"pages": "3",
		"deep":  "true",
		"tags":  `["a","b"]`,
	}, args)

	args, err = parseArguments("   ")
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestParseArgumentsRejects(t *testing.T) {
	for name, raw := range map[string]string{
		"array":    `[1, 2]`,
		"null":     `null`,
		"garbage":  `{not json`,
		"reserved": `{"jobid": "x"}`,
		"setting":  `{"setting": "A=1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseArguments(raw)
			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, "job arguments", cfgErr.Field)
		})
	}
}
