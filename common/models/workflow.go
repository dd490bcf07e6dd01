package models

// Workflow is the live state of a submitted workflow: the full job list
// plus the scheduling partitions. Every job is in exactly one of
// available, running or completed at all times.
//
// A Workflow is not safe for concurrent use. All mutation happens on the
// engine goroutine.
type Workflow struct {
	ID       WorkflowID
	Name     string
	Log      string
	Priority int
	Jobs     []*Job
	Status   Status

	available []*Job
	running   []*Job
	completed []*Job
}

func newWorkflow(name, log string, priority int, jobs []*Job) *Workflow {
	w := &Workflow{
		Name:     name,
		Log:      log,
		Priority: priority,
		Jobs:     jobs,
		Status:   StatusInitialized,
	}
	w.available = append(w.available, jobs...)
	return w
}

// frozen reports whether the workflow has been cancelled or stopped, after
// which no pass may change job states.
func (w *Workflow) frozen() bool {
	return w.Status == StatusCancelled || w.Status == StatusStopped
}

func (w *Workflow) finished() bool {
	return len(w.available) == 0 && len(w.running) == 0
}

// Next selects the jobs to dispatch now. Jobs whose outputs already exist
// are skipped, jobs whose inputs exist are moved to running and returned,
// and everything else stays available. If nothing was selected and nothing
// is in flight the remaining jobs can never run, so the workflow fails.
func (w *Workflow) Next() []*Job {
	if w.frozen() {
		return nil
	}
	var batch []*Job
	var remaining []*Job
	for _, job := range w.available {
		switch {
		case job.Completed(nil):
			job.Status = JobStateSkipped
			w.completed = append(w.completed, job)
		case job.Ready():
			job.Status = JobStateRunning
			w.running = append(w.running, job)
			batch = append(batch, job)
		default:
			job.Status = JobStateScheduled
			remaining = append(remaining, job)
		}
	}
	w.available = remaining
	if w.finished() {
		w.Status = StatusCompleted
		return nil
	}
	if len(batch) == 0 && len(w.running) == 0 {
		w.failRemaining()
		w.Status = StatusFailed
		return nil
	}
	return batch
}

// UpdateStatus resolves one finished task against its job and returns the
// workflow status after the move. A failed job that still has retries left
// goes back to available; the caller re-runs Next to redispatch it.
func (w *Workflow) UpdateStatus(job *Job, returned int) Status {
	if w.frozen() || job.Status.Finished() {
		return w.Status
	}
	if job.Completed(&returned) {
		job.Status = JobStateCompleted
		w.running = removeJob(w.running, job)
		w.completed = append(w.completed, job)
		if w.finished() {
			w.Status = StatusCompleted
		} else {
			w.Status = StatusRunning
		}
		return w.Status
	}
	if !job.Exhausted() {
		job.Restart()
		w.running = removeJob(w.running, job)
		w.available = append(w.available, job)
		w.Status = StatusRunning
		return w.Status
	}
	job.Status = JobStateFailed
	w.running = removeJob(w.running, job)
	w.completed = append(w.completed, job)
	w.failRemaining()
	w.Status = StatusFailed
	return w.Status
}

// failRemaining drains the available partition: those jobs will never run
// now, so they are marked failed. A failed job with no Info never executed.
func (w *Workflow) failRemaining() {
	for _, job := range w.available {
		job.Status = JobStateFailed
		w.completed = append(w.completed, job)
	}
	w.available = nil
}

// Cancel marks every unfinished job cancelled and freezes the workflow.
func (w *Workflow) Cancel() {
	w.halt(JobStateCancelled, StatusCancelled)
}

// Stop is Cancel with stopped states, used when the daemon is shutting
// down rather than the operator abandoning the workflow.
func (w *Workflow) Stop() {
	w.halt(JobStateStopped, StatusStopped)
}

func (w *Workflow) halt(state JobState, status Status) {
	if w.Status.Terminal() {
		return
	}
	for _, job := range w.Jobs {
		if !job.Status.Finished() {
			job.Status = state
			w.completed = append(w.completed, job)
		}
	}
	w.available = nil
	w.running = nil
	w.Status = status
}

// InFlight reports how many jobs are currently dispatched.
func (w *Workflow) InFlight() int {
	return len(w.running)
}

// Owns reports whether job is one of this workflow's own job objects.
// Resubmission replaces the live workflow, so a late result can carry a
// job pointer from a previous incarnation.
func (w *Workflow) Owns(job *Job) bool {
	for _, candidate := range w.Jobs {
		if candidate == job {
			return true
		}
	}
	return false
}

// JobReports renders the per-job state list returned by status queries.
func (w *Workflow) JobReports() []map[string]interface{} {
	reports := make([]map[string]interface{}, len(w.Jobs))
	for i, job := range w.Jobs {
		reports[i] = job.State()
	}
	return reports
}

// StatusMessage is the operator-facing line for the workflow's current
// status.
func (w *Workflow) StatusMessage() string {
	return w.Status.Message(w.ID)
}

func removeJob(jobs []*Job, job *Job) []*Job {
	for i := range jobs {
		if jobs[i] == job {
			return append(jobs[:i], jobs[i+1:]...)
		}
	}
	return jobs
}
