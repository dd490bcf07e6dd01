package documents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/models"
)

func TestWorkflowRowWireShape(t *testing.T) {
	submitted := models.NewTime(time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC))
	completed := models.NewTimePtr(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))

	row := MakeWorkflowRow(&models.WorkflowSummary{
		ID:        12,
		Name:      "align-reads",
		Submitted: submitted,
		Completed: completed,
		Status:    models.StatusCompleted,
	})
	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[12, "2026-02-01T09:30:00Z", "2026-02-01T10:00:00Z", "Completed"]`, string(out))

	decoded := WorkflowRow{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, models.WorkflowID(12), decoded.ID)
	assert.Equal(t, submitted, decoded.Submitted)
	require.NotNil(t, decoded.Completed)
	assert.Equal(t, *completed, *decoded.Completed)
	assert.Equal(t, "Completed", decoded.Status)
}

func TestWorkflowRowUnfinishedHasNullCompletion(t *testing.T) {
	row := MakeWorkflowRow(&models.WorkflowSummary{
		ID:        3,
		Submitted: models.NewTime(time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)),
		Status:    models.StatusRunning,
	})
	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[3, "2026-02-01T09:30:00Z", null, "Running"]`, string(out))

	decoded := WorkflowRow{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Nil(t, decoded.Completed)
}

func TestWorkflowRowRejectsShortTuples(t *testing.T) {
	decoded := WorkflowRow{}
	err := json.Unmarshal([]byte(`[3, "2026-02-01T09:30:00Z"]`), &decoded)
	require.Error(t, err)
}

func TestScheduleResponseNullFields(t *testing.T) {
	// A rejected submission carries a null id and the validation tuples
	out, err := json.Marshal(&ScheduleResponse{
		Status: models.StatusError.Name(),
		Errors: []models.JobError{{Index: 0, Reason: "The command name was not specified"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "Error", "id": null, "errors": [[0, "The command name was not specified"]]}`, string(out))

	// A successful submission carries the id and null errors
	id := models.WorkflowID(9)
	out, err = json.Marshal(&ScheduleResponse{Status: models.StatusScheduled.Name(), ID: &id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "Scheduled", "id": 9, "errors": null}`, string(out))
}
