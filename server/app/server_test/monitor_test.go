package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/server/api/rest"
)

func monitorGet(t *testing.T, ctx context.Context, url string, out interface{}) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res.StatusCode
}

func TestMonitorServesWorkflowReports(t *testing.T) {
	ctx := context.Background()
	server, c := startDaemon(t)
	base := server.MonitorServer.ServerURL()

	var health documents.StatusResponse
	code := monitorGet(t, ctx, base+"/v1/health", &health)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, documents.StatusOK, health.Status)

	var listing documents.WorkflowsResponse
	code = monitorGet(t, ctx, base+"/v1/workflows", &listing)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, listing.Workflows)

	outPath := filepath.Join(t.TempDir(), "monitored.txt")
	response := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("monitored", OutputJob(outPath, "watched")))
	id := *response.ID
	WaitForWorkflowStatus(t, ctx, c, id, models.StatusCompleted)

	code = monitorGet(t, ctx, base+"/v1/workflows", &listing)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listing.Workflows, 1)
	row := listing.Workflows[0]
	assert.Equal(t, id, row.ID)
	assert.Equal(t, models.StatusCompleted.Name(), row.Status)
	assert.NotNil(t, row.Completed)

	var report documents.StatusReportResponse
	code = monitorGet(t, ctx, fmt.Sprintf("%s/v1/workflows/%d", base, id), &report)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, models.StatusCompleted.Name(), report.Status)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, "completed", report.Jobs[0]["status"])

	// An unknown id is answered, not erred, to match the socket route.
	code = monitorGet(t, ctx, base+"/v1/workflows/9000", &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusNotFound.Name(), report.Status)
	assert.Empty(t, report.Jobs)
}

func TestMonitorRejectsMalformedWorkflowID(t *testing.T) {
	ctx := context.Background()
	server, _ := startDaemon(t)

	var errDoc rest.ErrorDocument
	code := monitorGet(t, ctx, server.MonitorServer.ServerURL()+"/v1/workflows/latest", &errDoc)
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, gerror.ErrCodeValidationFailed, errDoc.Code)
	assert.Equal(t, http.StatusBadRequest, errDoc.HTTPStatusCode)
	assert.Equal(t, "The workflow id must be an integer.", errDoc.Message)
}

func TestMonitorStreamsWorkflowEvents(t *testing.T) {
	ctx := context.Background()
	server, c := startDaemon(t)

	streamCtx, cancelStream := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStream()
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, server.MonitorServer.ServerURL()+"/v1/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	outPath := filepath.Join(t.TempDir(), "streamed.txt")
	response := ScheduleWorkflow(t, ctx, c, NewTestWorkflowSpec("streamed", OutputJob(outPath, "event")))
	id := *response.ID

	// Read frames until the stream reports our workflow finishing. The
	// request context bounds the wait.
	statuses := readWorkflowEvents(t, res, id, models.StatusCompleted.Name())
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.StatusCompleted.Name(), statuses[len(statuses)-1])
}

// readWorkflowEvents consumes the server-sent event stream, collecting the
// statuses reported for the given workflow until one matches until.
func readWorkflowEvents(t *testing.T, res *http.Response, id models.WorkflowID, until string) []string {
	var statuses []string
	var eventName, eventData string
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			eventData = strings.TrimPrefix(line, "data: ")
		case line == "":
			if eventName != "workflow" {
				break
			}
			var event rest.WorkflowEvent
			require.NoError(t, json.Unmarshal([]byte(eventData), &event))
			if event.ID == id {
				statuses = append(statuses, event.Status)
				if event.Status == until {
					return statuses
				}
			}
		}
	}
	t.Fatalf("The event stream ended before workflow %d reported %q: %v", id, until, scanner.Err())
	return nil
}
