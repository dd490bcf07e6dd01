package documents

import (
	"encoding/json"
	"fmt"

	"github.com/lyonslab/yerba/common/models"
)

// StatusOK is the health check's status value. It is not a workflow
// status name.
const StatusOK = "OK"

// RequestEnvelope is the body of every framed request: the name of the
// route to invoke plus the route's payload. The data key must be present,
// even when a route has no payload.
type RequestEnvelope struct {
	Request string          `json:"request"`
	Data    json.RawMessage `json:"data"`
}

// IDRequest is the payload for routes addressing one workflow by id.
type IDRequest struct {
	ID models.WorkflowID `json:"id"`
}

// WorkflowsRequest is the payload for the workflows listing route. An
// empty id list requests every workflow.
type WorkflowsRequest struct {
	IDs []models.WorkflowID `json:"ids,omitempty"`
}

// StatusResponse answers routes that report a single status name.
type StatusResponse struct {
	Status string `json:"status"`
}

// ScheduleResponse answers a workflow submission. ID is null when the
// submission was rejected, and Errors is null unless validation failed.
type ScheduleResponse struct {
	Status string             `json:"status"`
	ID     *models.WorkflowID `json:"id"`
	Errors []models.JobError  `json:"errors"`
}

// StatusReportResponse answers a workflow status check. Jobs holds the
// per-job state vector for live workflows and is empty otherwise.
type StatusReportResponse struct {
	Status string                   `json:"status"`
	Jobs   []map[string]interface{} `json:"jobs"`
}

// WorkflowsResponse answers the workflows listing route.
type WorkflowsResponse struct {
	Workflows []WorkflowRow `json:"workflows"`
}

// WorkflowRow is one listing entry. It marshals as the positional tuple
// [id, submitted, completed, status] the listing has always used on the
// wire; completed is null for unfinished workflows.
type WorkflowRow struct {
	ID        models.WorkflowID
	Submitted models.Time
	Completed *models.Time
	Status    string
}

// MakeWorkflowRow converts a stored summary into its wire row.
func MakeWorkflowRow(summary *models.WorkflowSummary) WorkflowRow {
	return WorkflowRow{
		ID:        summary.ID,
		Submitted: summary.Submitted,
		Completed: summary.Completed,
		Status:    summary.Status.Name(),
	}
}

func (r WorkflowRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.ID, r.Submitted, r.Completed, r.Status})
}

func (r *WorkflowRow) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 4 {
		return fmt.Errorf("error malformed workflow row: %s", string(b))
	}
	if err := json.Unmarshal(tuple[0], &r.ID); err != nil {
		return fmt.Errorf("error malformed workflow row id: %s", string(tuple[0]))
	}
	if err := json.Unmarshal(tuple[1], &r.Submitted); err != nil {
		return fmt.Errorf("error malformed workflow row submitted time: %s", string(tuple[1]))
	}
	if err := json.Unmarshal(tuple[2], &r.Completed); err != nil {
		return fmt.Errorf("error malformed workflow row completed time: %s", string(tuple[2]))
	}
	if err := json.Unmarshal(tuple[3], &r.Status); err != nil {
		return fmt.Errorf("error malformed workflow row status: %s", string(tuple[3]))
	}
	return nil
}
