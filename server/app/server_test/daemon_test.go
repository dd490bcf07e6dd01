package server_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// startDaemon boots a complete daemon on free ports and returns it with a
// client for its message socket. Everything is torn down when the test
// finishes.
func startDaemon(t *testing.T) (*TestServer, *client.Client) {
	server, cleanup, err := New(TestConfig(t))
	require.NoError(t, err, "Error building test server")
	t.Cleanup(cleanup)
	server.Start(t)
	t.Cleanup(func() { server.Stop(t) })
	return server, server.Client(t)
}

func TestDaemonAnswersHealthAndEmptyQueries(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusOK, status)

	rows, err := c.Workflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Queries about workflows that were never submitted answer NotFound
	// rather than failing
	report, err := c.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound.Name(), report.Status)
	assert.Empty(t, report.Jobs)

	name, err := c.Cancel(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound.Name(), name)

	name, err = c.Restart(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound.Name(), name)
}

func TestDaemonRejectsInvalidWorkflows(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()

	// No jobs at all
	response, err := c.Schedule(ctx, &models.WorkflowSpec{Name: UniqueName("empty")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError.Name(), response.Status)
	assert.Nil(t, response.ID)

	// A job without a command reports its index and reason
	response, err = c.Schedule(ctx, NewTestWorkflowSpec("invalid",
		OutputJob(filepath.Join(t.TempDir(), "ok.txt"), "ok"),
		models.JobSpec{Cmd: ""},
	))
	require.NoError(t, err)
	assert.Equal(t, models.StatusError.Name(), response.Status)
	assert.Nil(t, response.ID)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, 1, response.Errors[0].Index)
	assert.Equal(t, "The command name was not specified", response.Errors[0].Reason)

	// Nothing was recorded for either submission
	rows, err := c.Workflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDaemonRunsWorkflowToCompletion(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()
	dir := t.TempDir()

	// A two stage pipeline: the second job consumes the first job's output
	// and cannot be dispatched until it exists.
	intermediate := filepath.Join(dir, "stage1.txt")
	final := filepath.Join(dir, "stage2.txt")
	spec := NewTestWorkflowSpec("pipeline",
		OutputJob(intermediate, "ok"),
		models.JobSpec{
			Cmd:     fmt.Sprintf("cat %s > %s", intermediate, final),
			Inputs:  models.PathList{Items: []models.PathEntry{models.NewPathEntry(intermediate)}},
			Outputs: models.PathList{Items: []models.PathEntry{models.NewPathEntry(final)}},
		},
	)

	response := ScheduleWorkflow(t, ctx, c, spec)
	assert.Equal(t, models.StatusScheduled.Name(), response.Status)
	id := *response.ID

	report := WaitForWorkflowStatus(t, ctx, c, id, models.StatusCompleted)
	require.Len(t, report.Jobs, 2)
	assert.Equal(t, string(models.JobStateCompleted), report.Jobs[0]["status"])
	assert.Equal(t, string(models.JobStateCompleted), report.Jobs[1]["status"])

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))

	rows, err := c.Workflows(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, models.StatusCompleted.Name(), rows[0].Status)
	assert.NotNil(t, rows[0].Completed)
}

func TestDaemonSkipsJobsWithExistingOutputs(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()
	dir := t.TempDir()

	output := filepath.Join(dir, "result.txt")
	require.NoError(t, os.WriteFile(output, []byte("stale\n"), 0644))

	// The output already exists, so the job never runs and the submission
	// comes back terminal immediately
	response := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("skip", OutputJob(output, "fresh")))
	assert.Equal(t, models.StatusCompleted.Name(), response.Status)

	report, err := c.Status(ctx, *response.ID)
	require.NoError(t, err)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, string(models.JobStateSkipped), report.Jobs[0]["status"])

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "stale\n", string(data), "a skipped job must not touch its outputs")

	// Overwrite clears the stale output up front, forcing the job to run
	overwrite := OutputJob(output, "fresh")
	overwrite.Overwrite = 1
	response = ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("overwrite", overwrite))
	WaitForWorkflowStatus(t, ctx, c, *response.ID, models.StatusCompleted)

	data, err = os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(data))
}

func TestDaemonRetriesFailedJobs(t *testing.T) {
	server, c := startDaemon(t)
	ctx := context.Background()

	dispatched := server.Queue.Stats().TotalTasksDispatched
	response := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("flaky", FailJob(7, 1)))
	assert.Equal(t, models.StatusScheduled.Name(), response.Status)

	report := WaitForWorkflowStatus(t, ctx, c, *response.ID, models.StatusFailed)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, string(models.JobStateFailed), report.Jobs[0]["status"])

	// The job ran twice: the first attempt plus one retry
	assert.Equal(t, dispatched+2, server.Queue.Stats().TotalTasksDispatched)

	rows, err := c.Workflows(ctx, *response.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusFailed.Name(), rows[0].Status)
	assert.NotNil(t, rows[0].Completed)
}

func TestDaemonCoalescesIdenticalJobsAcrossWorkflows(t *testing.T) {
	server, c := startDaemon(t)
	ctx := context.Background()
	dir := t.TempDir()

	shared := models.JobSpec{
		Cmd:     fmt.Sprintf("sleep 1 && echo shared > %s", filepath.Join(dir, "shared.txt")),
		Outputs: models.PathList{Items: []models.PathEntry{models.NewPathEntry(filepath.Join(dir, "shared.txt"))}},
	}
	first := NewTestWorkflowSpec("coalesce-first", shared, OutputJob(filepath.Join(dir, "first.txt"), "first"))
	second := NewTestWorkflowSpec("coalesce-second", shared, OutputJob(filepath.Join(dir, "second.txt"), "second"))

	dispatched := server.Queue.Stats().TotalTasksDispatched
	firstResponse := ScheduleWorkflow(t, ctx, c, first)
	secondResponse := ScheduleWorkflow(t, ctx, c, second)
	require.NotEqual(t, *firstResponse.ID, *secondResponse.ID)

	WaitForWorkflowStatus(t, ctx, c, *firstResponse.ID, models.StatusCompleted)
	WaitForWorkflowStatus(t, ctx, c, *secondResponse.ID, models.StatusCompleted)

	// The shared job executed once; only the unique jobs added tasks
	assert.Equal(t, dispatched+3, server.Queue.Stats().TotalTasksDispatched)

	data, err := os.ReadFile(filepath.Join(dir, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "shared\n", string(data))
}

func TestDaemonDeduplicatesResubmittedWorkflows(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()
	dir := t.TempDir()

	spec := NewTestWorkflowSpec("dedup",
		OutputJob(filepath.Join(dir, "quick.txt"), "quick"),
		models.JobSpec{Cmd: "sleep 2"},
	)
	response := ScheduleWorkflow(t, ctx, c, spec)
	id := *response.ID

	// Once the quick job has finished the workflow is recorded as running;
	// resubmitting the same job list just reports the id back
	WaitForWorkflowStatus(t, ctx, c, id, models.StatusRunning)
	resubmitted, err := c.Schedule(ctx, spec)
	require.NoError(t, err)
	require.NotNil(t, resubmitted.ID)
	assert.Equal(t, id, *resubmitted.ID)
	assert.Equal(t, models.StatusRunning.Name(), resubmitted.Status)

	WaitForWorkflowStatus(t, ctx, c, id, models.StatusCompleted)

	// Resubmission after completion reuses the same workflow id; with the
	// outputs in place and the sleep judged by its exit code, the rerun
	// executes the sleep again but nothing else
	rowsBefore, err := c.Workflows(ctx)
	require.NoError(t, err)
	rerun, err := c.Schedule(ctx, spec)
	require.NoError(t, err)
	require.NotNil(t, rerun.ID)
	assert.Equal(t, id, *rerun.ID)

	WaitForWorkflowStatus(t, ctx, c, id, models.StatusCompleted)
	rowsAfter, err := c.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, rowsAfter, len(rowsBefore), "resubmission must not create a new workflow")
}

func TestDaemonCancelsRunningWorkflows(t *testing.T) {
	_, c := startDaemon(t)
	ctx := context.Background()

	response := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("cancel", SleepJob(30)))
	assert.Equal(t, models.StatusScheduled.Name(), response.Status)
	id := *response.ID

	name, err := c.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled.Name(), name)

	report, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled.Name(), report.Status)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, string(models.JobStateCancelled), report.Jobs[0]["status"])

	// The killed task's outcome must not resurrect the workflow
	time.Sleep(200 * time.Millisecond)
	report, err = c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled.Name(), report.Status)

	rows, err := c.Workflows(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].Completed)
}

func TestDaemonRecoversOrphanedWorkflowsOnStartup(t *testing.T) {
	config := TestConfig(t)
	first, cleanup, err := New(config)
	require.NoError(t, err, "Error building first server")
	first.Start(t)
	c := first.Client(t)
	ctx := context.Background()
	dir := t.TempDir()

	finished := ScheduleWorkflow(t, ctx, c,
		NewTestWorkflowSpec("recover-finished", OutputJob(filepath.Join(dir, "done.txt"), "done")))
	WaitForWorkflowStatus(t, ctx, c, *finished.ID, models.StatusCompleted)

	orphan := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("recover-orphan", SleepJob(30)))
	assert.Equal(t, models.StatusScheduled.Name(), orphan.Status)

	// Tear the first daemon down without the shutdown path: the queue dies
	// and the database closes, but nothing marks the running workflow
	// stopped.
	stopCtx, stopCancel := context.WithTimeout(ctx, 5*time.Second)
	require.NoError(t, first.MonitorServer.Stop(stopCtx))
	stopCancel()
	first.SocketServer.Stop()
	cleanup()
	first.Engine.Shutdown()

	second, cleanup2, err := New(config)
	require.NoError(t, err, "Error building second server")
	t.Cleanup(cleanup2)
	second.Start(t)
	t.Cleanup(func() { second.Stop(t) })
	c2 := second.Client(t)

	rows, err := c2.Workflows(ctx)
	require.NoError(t, err)
	byID := make(map[models.WorkflowID]documents.WorkflowRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	require.Contains(t, byID, *orphan.ID)
	assert.Equal(t, models.StatusStopped.Name(), byID[*orphan.ID].Status)
	assert.NotNil(t, byID[*orphan.ID].Completed)

	// Workflows that finished before the crash are left alone
	require.Contains(t, byID, *finished.ID)
	assert.Equal(t, models.StatusCompleted.Name(), byID[*finished.ID].Status)

	// The finished workflow restarts under its old id; its outputs still
	// exist so the new run skips straight to completed
	name, err := c2.Restart(ctx, *finished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted.Name(), name)
}

func TestDaemonShutsDownOnClientRequest(t *testing.T) {
	server, c := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Shutdown(ctx))

	select {
	case <-server.Engine.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("the engine never exited after the shutdown request")
	}

	// Nothing is answering anymore, so a request only ends at its deadline
	shortCtx, shortCancel := context.WithTimeout(context.Background(), time.Second)
	defer shortCancel()
	_, err := c.Health(shortCtx)
	require.Error(t, err)
}
