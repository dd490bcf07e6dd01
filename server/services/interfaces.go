package services

import (
	"context"

	"github.com/lyonslab/yerba/common/models"
)

// Service is a long-running component of the daemon managed by the Manager.
// Services run entirely on the engine goroutine: Initialize is called once
// during startup, Update on every engine tick, and Stop during shutdown.
// Update must not block.
type Service interface {
	// Name identifies the service within its group.
	Name() string
	// Group identifies the subsystem the service belongs to.
	Group() string
	// Initialize prepares the service for use. An error aborts daemon startup.
	Initialize() error
	// Update gives the service a chance to make progress.
	Update()
	// Stop shuts the service down and releases its resources.
	Stop()
}

// WorkflowStatus is a snapshot line for one live workflow, used by the
// periodic operational report.
type WorkflowStatus struct {
	ID      models.WorkflowID
	Status  models.Status
	Message string
}

type WorkflowService interface {
	// Submit validates a workflow specification and schedules it, returning the
	// workflow's id and post-schedule status. Re-submitting an identical job list
	// while the workflow is live returns the existing id without rescheduling.
	// Returns a Validation error carrying per-job failures if the spec is invalid;
	// no workflow is recorded in that case.
	Submit(ctx context.Context, spec *models.WorkflowSpec) (models.WorkflowID, models.Status, error)
	// Cancel stops a live workflow: unfinished jobs are marked cancelled and the
	// scheduler withdraws its tasks. Cancelling a finished or already-cancelled
	// workflow is a no-op that returns the recorded status.
	// Returns gerror.ErrNotFound if the workflow was never submitted.
	Cancel(ctx context.Context, id models.WorkflowID) (models.Status, error)
	// Status reports a workflow's stored status and, when the workflow is live in
	// memory, its per-job state list.
	// Returns models.StatusNotFound and gerror.ErrNotFound if the workflow was
	// never submitted.
	Status(ctx context.Context, id models.WorkflowID) (models.Status, []map[string]interface{}, error)
	// List returns workflow summaries oldest first, limited to the given ids
	// when any are supplied.
	List(ctx context.Context, ids []models.WorkflowID) ([]*models.WorkflowSummary, error)
	// Restart rebuilds a workflow from its stored job list and schedules it again.
	// Returns gerror.ErrNotFound if the workflow was never submitted.
	Restart(ctx context.Context, id models.WorkflowID) (models.Status, error)
	// Cleanup marks every unfinished workflow in the store as stopped. Called on
	// daemon shutdown, and on startup to stop workflows orphaned by a crash.
	Cleanup(ctx context.Context) error
	// Snapshot reports the status of every workflow live in memory, for the
	// periodic operational report.
	Snapshot() []WorkflowStatus
}
