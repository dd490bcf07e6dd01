package server_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

var nameCounter int64

// UniqueName returns a name unique within the test process, so workflows
// from different tests never collide in the store.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&nameCounter, 1))
}

// NewTestWorkflowSpec wraps jobs in a workflow specification with a unique
// name.
func NewTestWorkflowSpec(namePrefix string, jobs ...models.JobSpec) *models.WorkflowSpec {
	return &models.WorkflowSpec{
		Name:     UniqueName(namePrefix),
		Priority: 1,
		Jobs:     jobs,
	}
}

// OutputJob returns a job that writes content to path and declares path as
// its output, so completion is judged by the file existing.
func OutputJob(path string, content string) models.JobSpec {
	return models.JobSpec{
		Cmd:     fmt.Sprintf("echo %s > %s", content, path),
		Outputs: models.PathList{Items: []models.PathEntry{models.NewPathEntry(path)}},
	}
}

// SleepJob returns a job that blocks for the given number of seconds. It
// declares no outputs, so it completes only when the command exits zero.
func SleepJob(seconds int) models.JobSpec {
	return models.JobSpec{
		Cmd: fmt.Sprintf("sleep %d", seconds),
	}
}

// FailJob returns a job that exits with the given non-zero code, retried
// the given number of times.
func FailJob(code int, retries int) models.JobSpec {
	return models.JobSpec{
		Cmd:     fmt.Sprintf("exit %d", code),
		Options: &models.OptionsSpec{Retries: &retries},
	}
}

// ScheduleWorkflow submits the spec and requires the daemon to accept it.
func ScheduleWorkflow(t *testing.T, ctx context.Context, c *client.Client, spec *models.WorkflowSpec) *documents.ScheduleResponse {
	response, err := c.Schedule(ctx, spec)
	require.NoError(t, err, "Error scheduling workflow")
	require.NotNil(t, response.ID, "The daemon rejected the workflow: %s", response.Status)
	return response
}

// WaitForWorkflowStatus polls the workflow until it reports the wanted
// status, and returns that status report. Transient client errors count as
// not there yet.
func WaitForWorkflowStatus(t *testing.T, ctx context.Context, c *client.Client, id models.WorkflowID, status models.Status) *documents.StatusReportResponse {
	var report *documents.StatusReportResponse
	require.Eventually(t, func() bool {
		r, err := c.Status(ctx, id)
		if err != nil {
			return false
		}
		report = r
		return r.Status == status.Name()
	}, 30*time.Second, 20*time.Millisecond, "workflow %v never reached %s", id, status.Name())
	return report
}
