package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/app/server_test"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/server/services/workflow"
	"github.com/lyonslab/yerba/server/store"
)

// eventRecorder keeps every event delivered on the bus so tests can assert
// on what the manager asked the scheduler to do.
type eventRecorder struct {
	events []notify.Event
}

func (r *eventRecorder) HandleEvent(event notify.Event) {
	r.events = append(r.events, event)
}

func (r *eventRecorder) scheduled() []notify.ScheduleTask {
	var out []notify.ScheduleTask
	for _, event := range r.events {
		if e, ok := event.(notify.ScheduleTask); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) cancelled() []notify.CancelTask {
	var out []notify.CancelTask
	for _, event := range r.events {
		if e, ok := event.(notify.CancelTask); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) transitions(id models.WorkflowID) []models.Status {
	var out []models.Status
	for _, event := range r.events {
		if e, ok := event.(notify.StatusChanged); ok && e.WorkflowID == id {
			out = append(out, e.Status)
		}
	}
	return out
}

type testEnv struct {
	service       *workflow.WorkflowService
	bus           *notify.Bus
	workflowStore store.WorkflowStore
	recorder      *eventRecorder
}

// newTestEnv wires a workflow manager against a real store but with the
// test driving the bus directly, standing in for the engine loop and the
// scheduler.
func newTestEnv(t *testing.T) *testEnv {
	app, cleanup, err := server_test.New(server_test.TestConfig(t))
	require.NoError(t, err, "Error initializing app")
	t.Cleanup(cleanup)

	bus := notify.NewBus(app.LogFactory)
	oplog := workflow.NewOperatorLog(app.LogFactory)
	service := workflow.NewWorkflowService(app.WorkflowStore, bus, oplog, app.LogFactory)
	recorder := &eventRecorder{}
	bus.Register(service)
	bus.Register(recorder)

	return &testEnv{
		service:       service,
		bus:           bus,
		workflowStore: app.WorkflowStore,
		recorder:      recorder,
	}
}

func (env *testEnv) submit(t *testing.T, spec *models.WorkflowSpec) (models.WorkflowID, models.Status) {
	t.Helper()
	id, status, err := env.service.Submit(context.Background(), spec)
	require.NoError(t, err)
	env.bus.Drain()
	return id, status
}

// finish simulates the scheduler reporting a task result for a job.
func (env *testEnv) finish(t *testing.T, id models.WorkflowID, job *models.Job, taskID, returned int) {
	t.Helper()
	env.bus.Publish(notify.TaskDone{
		WorkflowID: id,
		Job:        job,
		Info: models.JobInfo{
			Cmd:      job.CommandLine(),
			Started:  "01/06/26 at 10:00:00AM",
			Ended:    "01/06/26 at 10:00:05AM",
			Elapsed:  5,
			TaskID:   models.TaskID(taskID),
			Returned: returned,
			Output:   "done\n",
		},
	})
	env.bus.Drain()
}

func (env *testEnv) storedStatus(t *testing.T, id models.WorkflowID) models.Status {
	t.Helper()
	status, err := env.workflowStore.GetStatus(context.Background(), nil, id)
	require.NoError(t, err)
	return status
}

func testJob(cmd string, inputs, outputs []string) models.JobSpec {
	spec := models.JobSpec{Cmd: cmd, Description: cmd}
	for _, path := range inputs {
		spec.Inputs.Items = append(spec.Inputs.Items, models.NewPathEntry(path))
	}
	for _, path := range outputs {
		spec.Outputs.Items = append(spec.Outputs.Items, models.NewPathEntry(path))
	}
	return spec
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSubmitRejectsInvalidSpecs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.service.Submit(ctx, &models.WorkflowSpec{Name: "empty"})
	require.Error(t, err)
	require.True(t, gerror.IsValidationFailed(err))

	var validationErr *models.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "The workflow does not contain any jobs.", validationErr.Message)

	_, _, err = env.service.Submit(ctx, &models.WorkflowSpec{
		Name: "no-command",
		Jobs: []models.JobSpec{{Cmd: ""}},
	})
	require.Error(t, err)
	require.True(t, errors.As(err, &validationErr))
	require.Len(t, validationErr.JobErrors, 1)
	assert.Equal(t, 0, validationErr.JobErrors[0].Index)
	assert.Equal(t, "The command name was not specified", validationErr.JobErrors[0].Reason)

	// A rejected submission leaves nothing behind.
	summaries, err := env.service.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestSubmitRunsWorkflowToCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "hits.tsv")
	logfile := filepath.Join(dir, "workflow.log")

	id, status := env.submit(t, &models.WorkflowSpec{
		Name:    "blast-search",
		Logfile: logfile,
		Jobs:    []models.JobSpec{testJob("blastn", nil, []string{out})},
	})
	require.NotZero(t, id)
	require.Equal(t, models.StatusScheduled, status)

	scheduled := env.recorder.scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, id, scheduled[0].WorkflowID)
	require.Len(t, scheduled[0].Jobs, 1)
	assert.Equal(t, models.StatusScheduled, env.storedStatus(t, id))

	// The task runs and produces the declared output.
	touch(t, out, "hit\n")
	env.finish(t, id, scheduled[0].Jobs[0], 1, 0)

	assert.Equal(t, models.StatusCompleted, env.storedStatus(t, id))
	record, err := env.workflowStore.Get(ctx, nil, id)
	require.NoError(t, err)
	assert.NotNil(t, record.Completed, "completion must be stamped")

	current, jobs, err := env.service.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, current)
	require.Len(t, jobs, 1)
	assert.Equal(t, "completed", jobs[0]["status"])

	logText, err := os.ReadFile(logfile)
	require.NoError(t, err)
	assert.Contains(t, string(logText), strings.Repeat("#", 25))
	assert.Contains(t, string(logText), "Return status: 0")
	assert.Contains(t, string(logText), "Expected outputs: "+out)

	// Each persisted status was announced on the bus as it happened
	assert.Equal(t, []models.Status{models.StatusScheduled, models.StatusCompleted}, env.recorder.transitions(id))
}

func TestSubmitIsIdempotentWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "contigs.fa")
	second := filepath.Join(dir, "annotated.gff")

	spec := &models.WorkflowSpec{
		Name: "assemble-annotate",
		Jobs: []models.JobSpec{
			testJob("assemble", nil, []string{first}),
			testJob("annotate", []string{first}, []string{second}),
		},
	}
	id, status := env.submit(t, spec)
	require.Equal(t, models.StatusScheduled, status)

	// The first job finishes; the second is dispatched and the workflow
	// is recorded as running.
	touch(t, first, ">contig1\nACGT\n")
	env.finish(t, id, env.recorder.scheduled()[0].Jobs[0], 1, 0)
	require.Equal(t, models.StatusRunning, env.storedStatus(t, id))
	require.Len(t, env.recorder.scheduled(), 2)

	// Submitting the identical job list again reuses the live workflow.
	again, status := env.submit(t, spec)
	assert.Equal(t, id, again)
	assert.Equal(t, models.StatusRunning, status)
	assert.Len(t, env.recorder.scheduled(), 2, "nothing new may be dispatched")
}

func TestSubmitReRunsCompletedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "tree.nwk")
	logfile := filepath.Join(dir, "workflow.log")

	spec := &models.WorkflowSpec{
		Name:    "build-tree",
		Logfile: logfile,
		Jobs:    []models.JobSpec{testJob("fasttree", nil, []string{out})},
	}
	id, _ := env.submit(t, spec)
	touch(t, out, "(a,b);\n")
	env.finish(t, id, env.recorder.scheduled()[0].Jobs[0], 1, 0)
	require.Equal(t, models.StatusCompleted, env.storedStatus(t, id))

	// Submitting again re-runs the workflow under the same id. The output
	// still exists so the only job is skipped and the run ends completed
	// on the spot.
	again, status := env.submit(t, spec)
	assert.Equal(t, id, again)
	assert.Equal(t, models.StatusCompleted, status)
	assert.Len(t, env.recorder.scheduled(), 1, "a skipped job must not be dispatched")
	assert.Equal(t, models.StatusCompleted, env.storedStatus(t, id))

	logText, err := os.ReadFile(logfile)
	require.NoError(t, err)
	assert.Contains(t, string(logText), "Skipped: The analysis was previously generated.")

	_, jobs, err := env.service.Status(ctx, id)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "skipped", jobs[0]["status"])
}

func TestFailedJobIsRetriedThenFailsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	retries := 1
	spec := &models.WorkflowSpec{
		Name: "flaky-fetch",
		Jobs: []models.JobSpec{{
			Cmd:     "fetch",
			Options: &models.OptionsSpec{Retries: &retries},
		}},
	}
	id, _ := env.submit(t, spec)
	job := env.recorder.scheduled()[0].Jobs[0]

	// First failure: one retry remains, so the job is dispatched again.
	env.finish(t, id, job, 1, 1)
	require.Len(t, env.recorder.scheduled(), 2)
	assert.Equal(t, job, env.recorder.scheduled()[1].Jobs[0])
	assert.Equal(t, models.StatusRunning, env.storedStatus(t, id))

	// Second failure exhausts the job and fails the workflow.
	env.finish(t, id, job, 2, 1)
	assert.Equal(t, models.StatusFailed, env.storedStatus(t, id))

	_, jobs, err := env.service.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "failed", jobs[0]["status"])
}

func TestCancelWithdrawsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	first := filepath.Join(dir, "aligned.bam")

	id, _ := env.submit(t, &models.WorkflowSpec{
		Name: "align-call",
		Jobs: []models.JobSpec{
			testJob("align", nil, []string{first}),
			testJob("call", []string{first}, nil),
		},
	})

	status, err := env.service.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)
	env.bus.Drain()

	cancelled := env.recorder.cancelled()
	require.Len(t, cancelled, 1)
	assert.Equal(t, id, cancelled[0].WorkflowID)

	assert.Equal(t, models.StatusCancelled, env.storedStatus(t, id))
	record, err := env.workflowStore.Get(ctx, nil, id)
	require.NoError(t, err)
	assert.NotNil(t, record.Completed)

	_, jobs, err := env.service.Status(ctx, id)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, "cancelled", job["status"])
	}

	// Cancelling again is harmless.
	status, err = env.service.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.service.Cancel(context.Background(), models.WorkflowID(4242))
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
	assert.Equal(t, models.StatusNotFound, status)
}

func TestStatusUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	status, jobs, err := env.service.Status(context.Background(), models.WorkflowID(4242))
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
	assert.Equal(t, models.StatusNotFound, status)
	assert.Empty(t, jobs)
}

func TestRestartReRunsStoredWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "counts.tsv")

	id, _ := env.submit(t, &models.WorkflowSpec{
		Name: "count-features",
		Jobs: []models.JobSpec{testJob("featurecounts", nil, []string{out})},
	})
	touch(t, out, "gene\t10\n")
	env.finish(t, id, env.recorder.scheduled()[0].Jobs[0], 1, 0)
	require.Equal(t, models.StatusCompleted, env.storedStatus(t, id))

	// The outputs are gone, so a restart really re-runs the job.
	require.NoError(t, os.Remove(out))
	status, err := env.service.Restart(ctx, id)
	require.NoError(t, err)
	env.bus.Drain()
	assert.Equal(t, models.StatusScheduled, status)
	assert.Equal(t, models.StatusScheduled, env.storedStatus(t, id))
	require.Len(t, env.recorder.scheduled(), 2)

	touch(t, out, "gene\t12\n")
	env.finish(t, id, env.recorder.scheduled()[1].Jobs[0], 2, 0)
	assert.Equal(t, models.StatusCompleted, env.storedStatus(t, id))
}

func TestRestartUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.service.Restart(context.Background(), models.WorkflowID(4242))
	require.Error(t, err)
	assert.True(t, gerror.IsNotFound(err))
	assert.Equal(t, models.StatusNotFound, status)
}

func TestCleanupStopsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()

	id, _ := env.submit(t, &models.WorkflowSpec{
		Name: "long-runner",
		Jobs: []models.JobSpec{testJob("simulate", nil, []string{filepath.Join(dir, "never.out")})},
	})

	require.NoError(t, env.service.Cleanup(ctx))

	assert.Equal(t, models.StatusStopped, env.storedStatus(t, id))
	record, err := env.workflowStore.Get(ctx, nil, id)
	require.NoError(t, err)
	assert.NotNil(t, record.Completed)

	snapshot := env.service.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.StatusStopped, snapshot[0].Status)
}

func TestSnapshotListsLiveWorkflows(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "done.txt")

	first, _ := env.submit(t, &models.WorkflowSpec{
		Name: "quick",
		Jobs: []models.JobSpec{testJob("quick", nil, []string{out})},
	})
	touch(t, out, "ok\n")
	env.finish(t, first, env.recorder.scheduled()[0].Jobs[0], 1, 0)

	second, _ := env.submit(t, &models.WorkflowSpec{
		Name: "slow",
		Jobs: []models.JobSpec{testJob("slow", nil, []string{filepath.Join(dir, "never.out")})},
	})

	snapshot := env.service.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, first, snapshot[0].ID)
	assert.Equal(t, models.StatusCompleted, snapshot[0].Status)
	assert.Equal(t, models.StatusCompleted.Message(first), snapshot[0].Message)
	assert.Equal(t, second, snapshot[1].ID)
	assert.Equal(t, models.StatusScheduled, snapshot[1].Status)
}

func TestResultForSupersededRunIsDropped(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "mapped.bam")

	spec := &models.WorkflowSpec{
		Name: "map-sort",
		Jobs: []models.JobSpec{
			testJob("map", nil, []string{first}),
			testJob("sort", []string{first}, nil),
		},
	}
	id, _ := env.submit(t, spec)
	staleJob := env.recorder.scheduled()[0].Jobs[0]

	// Resubmitting replaces the live incarnation; the old run's job
	// objects no longer belong to the workflow.
	again, _ := env.submit(t, spec)
	require.Equal(t, id, again)

	touch(t, first, "reads\n")
	env.finish(t, id, staleJob, 1, 0)

	// The stale result must not advance the new incarnation.
	assert.Equal(t, models.StatusScheduled, env.storedStatus(t, id))
	_, jobs, err := env.service.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "running", jobs[0]["status"])
}

func TestListReturnsSummaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()

	first, _ := env.submit(t, &models.WorkflowSpec{
		Name: "first",
		Jobs: []models.JobSpec{testJob("first", nil, []string{filepath.Join(dir, "a.out")})},
	})
	second, _ := env.submit(t, &models.WorkflowSpec{
		Name: "second",
		Jobs: []models.JobSpec{testJob("second", nil, []string{filepath.Join(dir, "b.out")})},
	})

	summaries, err := env.service.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first, summaries[0].ID)
	assert.Equal(t, "first", summaries[0].Name)
	assert.Equal(t, models.StatusScheduled, summaries[0].Status)
	assert.Equal(t, second, summaries[1].ID)
	assert.Equal(t, "second", summaries[1].Name)

	summaries, err = env.service.List(ctx, []models.WorkflowID{second})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, second, summaries[0].ID)
}
