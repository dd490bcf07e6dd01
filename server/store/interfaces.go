package store

import (
	"context"

	"github.com/lyonslab/yerba/common/models"
)

type WorkflowStore interface {
	// Create a new workflow record, returning the ID the database assigned to it.
	// The record's ID field is also set on the way out.
	Create(ctx context.Context, txOrNil *Tx, record *models.WorkflowRecord) (models.WorkflowID, error)
	// Get an existing workflow record, looking it up by ID.
	// Returns gerror.ErrNotFound if the workflow does not exist.
	Get(ctx context.Context, txOrNil *Tx, id models.WorkflowID) (*models.WorkflowRecord, error)
	// FindByJobs reads the most recently created workflow whose canonical job list exactly
	// matches jobs. Returns gerror.ErrNotFound if no workflow matches.
	FindByJobs(ctx context.Context, txOrNil *Tx, jobs []byte) (*models.WorkflowRecord, error)
	// Update refreshes a workflow's name, logfile, jobs and priority from a re-submission.
	// The status and timestamps are not touched.
	// Returns gerror.ErrNotFound if the workflow does not exist.
	Update(ctx context.Context, txOrNil *Tx, record *models.WorkflowRecord) error
	// UpdateStatus sets the status of an existing workflow. Moving to a terminal status also
	// records the completion time. Returns gerror.ErrNotFound if the workflow does not exist.
	UpdateStatus(ctx context.Context, txOrNil *Tx, id models.WorkflowID, status models.Status) error
	// GetStatus returns the status of an existing workflow.
	// Returns models.StatusNotFound and gerror.ErrNotFound if the workflow does not exist.
	GetStatus(ctx context.Context, txOrNil *Tx, id models.WorkflowID) (models.Status, error)
	// Fetch returns summaries of stored workflows ordered by ID ascending,
	// limited to the given ids when any are supplied.
	Fetch(ctx context.Context, txOrNil *Tx, ids []models.WorkflowID) ([]*models.WorkflowSummary, error)
	// StopAll marks every workflow that is not yet finished as stopped, recording the
	// completion time. Returns the number of workflows that were stopped.
	StopAll(ctx context.Context, txOrNil *Tx) (int64, error)
	// SetStartIndex seeds the workflow ID sequence so that the next workflow created is
	// assigned index+1. Does nothing if index is not positive or workflows already exist.
	SetStartIndex(ctx context.Context, txOrNil *Tx, index int64) error
}
