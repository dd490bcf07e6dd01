package models

// WorkflowRecord is the persisted form of a workflow: the canonical jobs
// blob plus bookkeeping. Job state lives in memory only; a workflow found
// on disk at startup is resubmitted from its blob.
type WorkflowRecord struct {
	ID        WorkflowID `json:"id" goqu:"skipinsert,skipupdate" db:"workflow_id"`
	Name      string     `json:"name" db:"workflow_name"`
	Priority  int        `json:"priority" db:"workflow_priority"`
	Logfile   string     `json:"logfile" db:"workflow_logfile"`
	Jobs      []byte     `json:"-" db:"workflow_jobs"`
	Submitted Time       `json:"submitted" goqu:"skipupdate" db:"workflow_submitted"`
	Completed *Time      `json:"completed,omitempty" db:"workflow_completed"`
	Status    Status     `json:"status" db:"workflow_status"`
}

// WorkflowSummary is the listing row returned by the workflows operation.
type WorkflowSummary struct {
	ID        WorkflowID `json:"id" db:"workflow_id"`
	Name      string     `json:"name" db:"workflow_name"`
	Priority  int        `json:"priority" db:"workflow_priority"`
	Submitted Time       `json:"submitted" db:"workflow_submitted"`
	Completed *Time      `json:"completed,omitempty" db:"workflow_completed"`
	Status    Status     `json:"status" db:"workflow_status"`
}
