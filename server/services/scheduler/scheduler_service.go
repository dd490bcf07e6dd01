package scheduler

import (
	"path/filepath"
	"time"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/util"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/workqueue"
)

// taskEntry tracks one submitted task and every workflow waiting on it.
// Each workflow keeps its own job pointer: coalesced workflows share the
// execution but their job objects are separate and must each be updated.
type taskEntry struct {
	taskID      workqueue.TaskID
	fingerprint uint64
	workflows   map[models.WorkflowID]*models.Job
	order       []models.WorkflowID
}

// SchedulerService multiplexes jobs onto the work queue. Identical jobs
// from different workflows coalesce onto a single task, keyed by the job
// fingerprint, and every subscribed workflow is notified when the task
// completes. The service runs on the engine goroutine: events arrive via
// the bus and completions are drained from Update.
type SchedulerService struct {
	queue        workqueue.Queue
	bus          *notify.Bus
	tasks        map[workqueue.TaskID]*taskEntry
	fingerprints map[uint64]workqueue.TaskID
	logger.Log
}

func NewSchedulerService(queue workqueue.Queue, bus *notify.Bus, logFactory logger.LogFactory) *SchedulerService {
	return &SchedulerService{
		queue:        queue,
		bus:          bus,
		tasks:        make(map[workqueue.TaskID]*taskEntry),
		fingerprints: make(map[uint64]workqueue.TaskID),
		Log:          logFactory("Scheduler"),
	}
}

func (s *SchedulerService) Name() string {
	return "workqueue"
}

func (s *SchedulerService) Group() string {
	return "scheduler"
}

func (s *SchedulerService) Initialize() error {
	s.Infof("Scheduling tasks on the work queue at port %d", s.queue.Port())
	return nil
}

// Update collects at most one completed task from the queue and notifies
// every workflow subscribed to it.
func (s *SchedulerService) Update() {
	result := s.queue.Wait(0)
	if result == nil {
		return
	}
	entry, ok := s.tasks[result.TaskID]
	if !ok {
		s.Warnf("The task %d is not tracked; dropping its result", result.TaskID)
		return
	}
	s.Debugf("Received task %d from the work queue with return status %d", result.TaskID, result.ReturnStatus)
	info := makeJobInfo(result)
	delete(s.tasks, entry.taskID)
	delete(s.fingerprints, entry.fingerprint)
	for _, workflowID := range entry.order {
		s.bus.Publish(notify.TaskDone{
			WorkflowID: workflowID,
			Job:        entry.workflows[workflowID],
			Info:       info,
		})
	}
}

func (s *SchedulerService) Stop() {
	s.queue.Shutdown()
}

// HandleEvent subscribes the scheduler to schedule and cancel requests.
func (s *SchedulerService) HandleEvent(event notify.Event) {
	switch e := event.(type) {
	case notify.ScheduleTask:
		s.schedule(e)
	case notify.CancelTask:
		s.cancel(e.WorkflowID)
	}
}

// schedule submits each ready job to the work queue, coalescing jobs that
// fingerprint-match a task already in flight.
func (s *SchedulerService) schedule(e notify.ScheduleTask) {
	for _, job := range e.Jobs {
		s.Infof("The workflow %v is scheduling job %s", e.WorkflowID, job)

		if !job.Ready() {
			s.Infof("The workflow %v job %s was not scheduled; it is waiting on inputs", e.WorkflowID, job)
			continue
		}

		fingerprint := job.Fingerprint()
		if taskID, ok := s.fingerprints[fingerprint]; ok {
			entry := s.tasks[taskID]
			if _, subscribed := entry.workflows[e.WorkflowID]; !subscribed {
				entry.order = append(entry.order, e.WorkflowID)
			}
			// Always track the latest job pointer: resubmission replaces
			// the live workflow and the result must land on the new run.
			entry.workflows[e.WorkflowID] = job
			s.Infof("The job %s has already been assigned to task %d", job, taskID)
			continue
		}

		taskID, err := s.queue.Submit(makeTaskSpec(job, e.Priority))
		if err != nil {
			s.Errorf("Failed to submit job %s for workflow %v: %v", job, e.WorkflowID, err)
			continue
		}
		s.tasks[taskID] = &taskEntry{
			taskID:      taskID,
			fingerprint: fingerprint,
			workflows:   map[models.WorkflowID]*models.Job{e.WorkflowID: job},
			order:       []models.WorkflowID{e.WorkflowID},
		}
		s.fingerprints[fingerprint] = taskID
		s.Infof("The task has been submitted and assigned id %d", taskID)
	}
}

// cancel removes the workflow from every task it subscribes to. A task
// with no subscribers left is cancelled on the queue; tasks other
// workflows still depend on keep running.
func (s *SchedulerService) cancel(workflowID models.WorkflowID) {
	for taskID, entry := range s.tasks {
		if _, subscribed := entry.workflows[workflowID]; !subscribed {
			continue
		}
		s.Infof("The workflow %v requested task %d to be cancelled", workflowID, taskID)
		delete(entry.workflows, workflowID)
		entry.order = removeWorkflowID(entry.order, workflowID)

		if len(entry.workflows) > 0 {
			s.Infof("The task %d was not cancelled; workflows %v depend on it", taskID, entry.order)
			continue
		}
		if s.queue.Cancel(taskID) {
			delete(s.tasks, taskID)
			delete(s.fingerprints, entry.fingerprint)
			s.Infof("The task %d was cancelled", taskID)
		} else {
			s.Errorf("Failed to cancel task %d", taskID)
		}
	}
}

// makeTaskSpec renders a job into a work queue task: the full command line,
// inputs staged under their base names with caching enabled, and outputs
// collected the same way with caching disabled.
func makeTaskSpec(job *models.Job, priority int) workqueue.TaskSpec {
	spec := workqueue.TaskSpec{
		Command:  job.CommandLine(),
		Priority: priority,
	}
	for _, input := range job.Inputs {
		spec.Inputs = append(spec.Inputs, workqueue.FileSpec{
			LocalPath:  input.Path,
			RemoteName: remoteName(input.Path),
			Directory:  input.IsDir,
			Cache:      true,
		})
	}
	for _, output := range job.Outputs {
		spec.Outputs = append(spec.Outputs, workqueue.FileSpec{
			LocalPath:  output.Path,
			RemoteName: remoteName(output.Path),
			Directory:  output.IsDir,
			Cache:      false,
		})
	}
	return spec
}

func remoteName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.Base(abs)
}

// makeJobInfo converts a queue result into the job info delivered to
// workflows. Queue timestamps are microseconds since the epoch and are
// rendered in local time like the rest of the operator log.
func makeJobInfo(result *workqueue.Result) models.JobInfo {
	output := util.TruncateStringToMaxLength(result.Output, models.MaxTaskOutput)
	var artifacts []models.OutputDigest
	for _, digest := range result.Outputs {
		artifacts = append(artifacts, models.OutputDigest{
			Path:   digest.Path,
			Digest: digest.Digest,
			Kind:   digest.Kind,
		})
	}
	return models.JobInfo{
		Cmd:       result.Command,
		Started:   time.UnixMicro(result.SubmitTime).Format(models.InfoTimeFormat),
		Ended:     time.UnixMicro(result.FinishTime).Format(models.InfoTimeFormat),
		Elapsed:   float64(result.ExecutionTime) / 1e6,
		TaskID:    models.TaskID(result.TaskID),
		Returned:  result.ReturnStatus,
		Output:    output,
		Artifacts: artifacts,
	}
}

func removeWorkflowID(ids []models.WorkflowID, id models.WorkflowID) []models.WorkflowID {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
