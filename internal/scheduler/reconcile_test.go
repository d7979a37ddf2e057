package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crawl-scheduler/internal/models"
	"crawl-scheduler/internal/workerapi"
)

func TestReconcilePromotesReportedStatus(t *testing.T) {
	c := newCluster()
	w1 := c.addNode(1, 0)
	w2 := c.addNode(2, 0)
	c.addJob("a", models.JobPending, models.TaskRunning)
	c.addJob("b", models.JobPending, models.TaskRunning)
	c.addJob("c", models.JobRunning, models.TaskRunning)
	w1.report("news", workerapi.JobListing{Running: entries("a")})
	w2.report("news", workerapi.JobListing{Pending: entries("b"), Finished: entries("c")})

	tracker := NewTracker(c.store, c.factory())
	sum, err := NewReconciler(c.store, c.factory(), tracker).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Jobs)
	assert.Equal(t, 2, sum.Updated)
	assert.Zero(t, sum.Reset)

	assert.Equal(t, models.JobRunning, c.job("a").Status)
	assert.Equal(t, models.JobPending, c.job("b").Status)
	assert.Equal(t, models.JobFinished, c.job("c").Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	c := newCluster()
	w := c.addNode(1, 0)
	c.addJob("a", models.JobPending, models.TaskRunning)
	w.report("news", workerapi.JobListing{Running: entries("a")})

	r := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory()))
	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	writes := c.store.WriteCount()
	require.Equal(t, 1, writes)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Updated)
	assert.Equal(t, writes, c.store.WriteCount())
}

func TestReconcileResetsMissingJobAndKeepsStaleNode(t *testing.T) {
	c := newCluster()
	c.addNode(1, 0)
	c.addJob("lost", models.JobPending, models.TaskRunning)
	require.NoError(t, c.store.UpdateJobAssignment(context.Background(), "lost", 1))

	sum, err := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory())).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reset)

	j := c.job("lost")
	assert.Equal(t, models.JobCreated, j.Status)
	require.NotNil(t, j.NodeID)
	assert.Equal(t, int64(1), *j.NodeID)
}

func TestReconcileIgnoresBackwardsReport(t *testing.T) {
	c := newCluster()
	w := c.addNode(1, 0)
	c.addJob("a", models.JobRunning, models.TaskRunning)
	w.report("news", workerapi.JobListing{Pending: entries("a")})

	sum, err := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory())).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, models.JobRunning, c.job("a").Status)
	assert.Zero(t, c.store.WriteCount())
}

func TestReconcileLastNodeWins(t *testing.T) {
	c := newCluster()
	c.addNode(1, 0).report("news", workerapi.JobListing{Finished: entries("a")})
	c.addNode(2, 0).report("news", workerapi.JobListing{Running: entries("a")})
	c.addJob("a", models.JobPending, models.TaskRunning)

	_, err := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory())).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, c.job("a").Status)
}

func TestReconcileSkipsFailedNodeForRestOfRun(t *testing.T) {
	c := newCluster()
	bad := c.addNode(1, 0)
	bad.down = true
	good := c.addNode(2, 0)
	c.addJob("a", models.JobPending, models.TaskRunning)
	c.store.PutJob(models.Job{ID: "b", Project: "shop", Spider: "items", Status: models.JobPending, UpstreamTaskStatus: models.TaskRunning})
	good.report("news", workerapi.JobListing{Running: entries("a")})
	good.report("shop", workerapi.JobListing{Running: entries("b")})

	sum, err := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory())).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FailedNodes)
	assert.Equal(t, 1, bad.listCalls)
	assert.Equal(t, 2, good.listCalls)
	assert.Equal(t, models.NodeOffline, c.node(1).Status)
	assert.Equal(t, models.JobRunning, c.job("a").Status)
	assert.Equal(t, models.JobRunning, c.job("b").Status)
}

func TestReconcileWithoutInFlightJobsQueriesNothing(t *testing.T) {
	c := newCluster()
	w := c.addNode(1, 0)
	c.addJob("new", models.JobCreated, models.TaskReady)
	c.addJob("done", models.JobFinished, models.TaskFinished)

	sum, err := NewReconciler(c.store, c.factory(), NewTracker(c.store, c.factory())).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Jobs)
	assert.Zero(t, w.listCalls)
}
