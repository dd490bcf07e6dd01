package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/services"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/server/store"
)

// WorkflowService owns every live workflow. It validates submissions,
// records them, advances job state as task results arrive and keeps the
// workflow table in step with the in-memory state. All methods run on the
// engine goroutine; nothing here is safe for concurrent use.
type WorkflowService struct {
	workflowStore store.WorkflowStore
	bus           *notify.Bus
	oplog         *OperatorLog
	workflows     map[models.WorkflowID]*models.Workflow
	logger.Log
}

func NewWorkflowService(
	workflowStore store.WorkflowStore,
	bus *notify.Bus,
	oplog *OperatorLog,
	logFactory logger.LogFactory,
) *WorkflowService {
	return &WorkflowService{
		workflowStore: workflowStore,
		bus:           bus,
		oplog:         oplog,
		workflows:     make(map[models.WorkflowID]*models.Workflow),
		Log:           logFactory("WorkflowManager"),
	}
}

// Submit validates and schedules a workflow. A submission whose job list
// matches an existing workflow reuses that workflow's id: if it is still
// running nothing else happens, otherwise the workflow runs again under
// the same id. Supplying an id in the spec pins the lookup to that row.
func (s *WorkflowService) Submit(ctx context.Context, spec *models.WorkflowSpec) (models.WorkflowID, models.Status, error) {
	if validationErr := spec.Validate(); validationErr != nil {
		return 0, models.StatusError, gerror.NewErrValidationFailed(validationErr.Message).Wrap(validationErr)
	}
	jobs, err := spec.CanonicalJobs()
	if err != nil {
		return 0, models.StatusError, errors.Wrap(err, "error encoding workflow jobs")
	}
	workflow := models.NewWorkflow(spec)
	s.Debugf("The workflow %q has been submitted", workflow.Name)

	var record *models.WorkflowRecord
	if spec.ID != 0 {
		record, err = s.workflowStore.Get(ctx, nil, spec.ID)
	} else {
		record, err = s.workflowStore.FindByJobs(ctx, nil, jobs)
	}
	if err != nil && !gerror.IsNotFound(err) {
		return 0, models.StatusError, err
	}

	if record != nil {
		if s.workflows[record.ID] != nil && record.Status == models.StatusRunning {
			return record.ID, models.StatusRunning, nil
		}
		if record.Status == models.StatusInitialized {
			s.Infof("Updating the existing workflow %v", record.ID)
			record.Name = workflow.Name
			record.Logfile = workflow.Log
			record.Jobs = jobs
			record.Priority = workflow.Priority
			if err := s.workflowStore.Update(ctx, nil, record); err != nil {
				return 0, models.StatusError, err
			}
		}
		workflow.ID = record.ID
	} else {
		s.Infof("Generating a new workflow")
		created := &models.WorkflowRecord{
			Name:      workflow.Name,
			Priority:  workflow.Priority,
			Logfile:   workflow.Log,
			Jobs:      jobs,
			Submitted: models.NewTime(time.Now()),
			Status:    models.StatusInitialized,
		}
		id, err := s.workflowStore.Create(ctx, nil, created)
		if err != nil {
			return 0, models.StatusError, err
		}
		workflow.ID = id
	}

	s.placeLive(workflow)
	return workflow.ID, s.schedule(ctx, workflow), nil
}

// placeLive installs the workflow in the live map, replacing any previous
// incarnation under the same id, and clears its operator log bookkeeping
// so the new run logs its own blocks.
func (s *WorkflowService) placeLive(workflow *models.Workflow) {
	s.oplog.Reset(workflow.ID)
	s.workflows[workflow.ID] = workflow
}

// persistStatus records a workflow's status in the store and announces the
// transition on the bus. Store failures are logged and swallowed; the
// in-memory state stays authoritative.
func (s *WorkflowService) persistStatus(ctx context.Context, id models.WorkflowID, status models.Status) {
	if err := s.workflowStore.UpdateStatus(ctx, nil, id, status); err != nil {
		s.Warnf("Failed to record workflow %v as %s: %v", id, status, err)
	}
	s.bus.Publish(notify.StatusChanged{WorkflowID: id, Status: status})
}

// schedule records the workflow as scheduled and runs the first dispatch
// pass. A workflow whose jobs all turn out to be already done, or that can
// never make progress, ends the pass terminal and that status is what the
// submitter sees.
func (s *WorkflowService) schedule(ctx context.Context, workflow *models.Workflow) models.Status {
	s.persistStatus(ctx, workflow.ID, models.StatusScheduled)
	workflow.Status = models.StatusScheduled

	batch := workflow.Next()
	s.writeLogBlocks(workflow)
	if len(batch) > 0 {
		s.bus.Publish(notify.ScheduleTask{
			WorkflowID: workflow.ID,
			Jobs:       batch,
			Priority:   workflow.Priority,
		})
	}
	s.Infof("The workflow %v has been scheduled", workflow.ID)

	if workflow.Status.Terminal() {
		s.persistStatus(ctx, workflow.ID, workflow.Status)
		return workflow.Status
	}
	return models.StatusScheduled
}

// HandleEvent consumes task completions from the scheduler. Other events
// on the bus are not for this service.
func (s *WorkflowService) HandleEvent(event notify.Event) {
	if e, ok := event.(notify.TaskDone); ok {
		s.taskDone(e)
	}
}

// taskDone resolves one task result against its workflow: the job's report
// is logged, the job and workflow move state, any newly runnable jobs are
// dispatched, and the row is updated once with the final status of the
// pass.
func (s *WorkflowService) taskDone(e notify.TaskDone) {
	ctx := context.Background()
	workflow := s.workflows[e.WorkflowID]
	if workflow == nil {
		s.Warnf("Received a result for workflow %v which is not live; dropping it", e.WorkflowID)
		return
	}
	if !workflow.Owns(e.Job) {
		s.Warnf("Received a result for a superseded run of workflow %v; dropping it", e.WorkflowID)
		return
	}

	info := e.Info
	e.Job.Info = &info
	s.oplog.JobFinished(workflow, e.Job)

	status := workflow.UpdateStatus(e.Job, info.Returned)
	if status == models.StatusRunning {
		batch := workflow.Next()
		if len(batch) > 0 {
			s.bus.Publish(notify.ScheduleTask{
				WorkflowID: workflow.ID,
				Jobs:       batch,
				Priority:   workflow.Priority,
			})
		}
		status = workflow.Status
	}
	s.writeLogBlocks(workflow)

	s.persistStatus(ctx, workflow.ID, status)
}

// writeLogBlocks sweeps the workflow for jobs whose outcome belongs in the
// operator log: skipped jobs, jobs with an execution report and jobs that
// failed without ever running. Already-written blocks are not repeated.
func (s *WorkflowService) writeLogBlocks(workflow *models.Workflow) {
	for _, job := range workflow.Jobs {
		switch {
		case job.Status == models.JobStateSkipped:
			s.oplog.JobSkipped(workflow, job)
		case job.Info != nil:
			s.oplog.JobFinished(workflow, job)
		case job.Status == models.JobStateFailed:
			s.oplog.JobNotRun(workflow, job)
		}
	}
}

// Cancel withdraws a live workflow. The scheduler is asked to cancel its
// tasks and every unfinished job is marked cancelled.
func (s *WorkflowService) Cancel(ctx context.Context, id models.WorkflowID) (models.Status, error) {
	workflow := s.workflows[id]
	if workflow == nil {
		return models.StatusNotFound, gerror.NewErrNotFound(models.StatusNotFound.Message(id))
	}
	s.Infof("The workflow %v has been requested to be cancelled", id)

	s.persistStatus(ctx, id, models.StatusCancelled)
	s.bus.Publish(notify.CancelTask{WorkflowID: id})
	workflow.Cancel()
	return models.StatusCancelled, nil
}

// Status reports the stored status and, for live workflows, the per-job
// state list.
func (s *WorkflowService) Status(ctx context.Context, id models.WorkflowID) (models.Status, []map[string]interface{}, error) {
	status, err := s.workflowStore.GetStatus(ctx, nil, id)
	if err != nil {
		return status, nil, err
	}
	var jobs []map[string]interface{}
	if workflow := s.workflows[id]; workflow != nil {
		jobs = workflow.JobReports()
	}
	return status, jobs, nil
}

// List returns workflow summaries, limited to the given ids when any are
// supplied.
func (s *WorkflowService) List(ctx context.Context, ids []models.WorkflowID) ([]*models.WorkflowSummary, error) {
	return s.workflowStore.Fetch(ctx, nil, ids)
}

// Restart rebuilds a workflow from its stored job list and schedules it
// again under the same id.
func (s *WorkflowService) Restart(ctx context.Context, id models.WorkflowID) (models.Status, error) {
	record, err := s.workflowStore.Get(ctx, nil, id)
	if err != nil {
		return models.StatusNotFound, err
	}

	var jobs []models.JobSpec
	if err := json.Unmarshal(record.Jobs, &jobs); err != nil {
		return models.StatusError, errors.Wrapf(err, "error decoding stored jobs for workflow %v", id)
	}
	spec := &models.WorkflowSpec{
		Name:     record.Name,
		Priority: record.Priority,
		Logfile:  record.Logfile,
		Jobs:     jobs,
	}
	if validationErr := spec.Validate(); validationErr != nil {
		return models.StatusError, gerror.NewErrValidationFailed(validationErr.Message).Wrap(validationErr)
	}
	s.Infof("The workflow %v is being restarted", id)

	workflow := models.NewWorkflow(spec)
	workflow.ID = id
	s.persistStatus(ctx, id, models.StatusInitialized)
	s.placeLive(workflow)
	return s.schedule(ctx, workflow), nil
}

// Cleanup stops everything: live workflows stop dispatching and every
// unfinished row in the store is marked stopped. Used at shutdown, and at
// startup to resolve workflows orphaned by a previous daemon process.
func (s *WorkflowService) Cleanup(ctx context.Context) error {
	count, err := s.workflowStore.StopAll(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error stopping workflows")
	}
	if count > 0 {
		s.Infof("Marked %d unfinished workflows as stopped", count)
	}
	for _, workflow := range s.workflows {
		workflow.Stop()
	}
	return nil
}

// Snapshot reports every live workflow's status, ordered by id.
func (s *WorkflowService) Snapshot() []services.WorkflowStatus {
	ids := make([]models.WorkflowID, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snapshot := make([]services.WorkflowStatus, len(ids))
	for i, id := range ids {
		workflow := s.workflows[id]
		snapshot[i] = services.WorkflowStatus{
			ID:      id,
			Status:  workflow.Status,
			Message: workflow.StatusMessage(),
		}
	}
	return snapshot
}
