package workflow

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/common/util"
)

const hashRuleLength = 25

// Operator log block kinds, part of the dedup key.
const (
	blockInfo   = "info"
	blockSkip   = "skip"
	blockNotRun = "notrun"
)

// logKey identifies one block in one workflow's logfile. The job pointer
// distinguishes jobs within a workflow; the marker distinguishes repeated
// blocks of the same kind for the same job. Info blocks use the task id
// that produced them, so a restarted job logs a fresh block while a
// duplicate delivery of the same result does not.
type logKey struct {
	workflowID models.WorkflowID
	job        *models.Job
	kind       string
	marker     int
}

// OperatorLog appends human-readable job reports to each workflow's
// logfile: a full report when a job finishes, a skip notice when a job's
// outputs were already present, and a not-run notice when a workflow fails
// before a job could start. Each block is written at most once per key; a
// failed write is retried on the next sweep.
type OperatorLog struct {
	written map[logKey]bool
	logger.Log
}

func NewOperatorLog(logFactory logger.LogFactory) *OperatorLog {
	return &OperatorLog{
		written: make(map[logKey]bool),
		Log:     logFactory("OperatorLog"),
	}
}

// Reset forgets everything written for a workflow. Call when a workflow is
// resubmitted or restarted so the new run logs its own blocks.
func (l *OperatorLog) Reset(id models.WorkflowID) {
	for key := range l.written {
		if key.workflowID == id {
			delete(l.written, key)
		}
	}
}

// JobFinished logs the job's execution report. The job's info record must
// be attached. The rendered list of expected outputs is stored back on the
// info record so that status reports carry it too.
func (l *OperatorLog) JobFinished(workflow *models.Workflow, job *models.Job) {
	if workflow.Log == "" || job.Info == nil {
		return
	}
	key := logKey{workflowID: workflow.ID, job: job, kind: blockInfo, marker: int(job.Info.TaskID)}
	if l.written[key] {
		return
	}

	outputs := make([]string, len(job.Outputs))
	for i, entry := range job.Outputs {
		outputs[i] = entry.Path
	}
	job.Info.Outputs = strings.Join(outputs, ", ")

	body := fmt.Sprintf(
		"Job: %s\n"+
			"Submitted at: %s\n"+
			"Completed at: %s\n"+
			"Execution time: %v sec\n"+
			"Assigned to task: %d\n"+
			"Return status: %d\n"+
			"Expected outputs: %s\n"+
			"Command Output:\n"+
			"%s",
		job.Info.Cmd, job.Info.Started, job.Info.Ended, job.Info.Elapsed,
		job.Info.TaskID, job.Info.Returned, job.Info.Outputs, job.Info.Output)

	if err := l.appendBlock(workflow.Log, job.Description, body); err != nil {
		l.Warnf("Failed to write job report to %q: %v", workflow.Log, err)
		return
	}
	l.written[key] = true
}

// JobSkipped logs that a job was not run because its outputs were already
// present from an earlier run.
func (l *OperatorLog) JobSkipped(workflow *models.Workflow, job *models.Job) {
	if workflow.Log == "" {
		return
	}
	key := logKey{workflowID: workflow.ID, job: job, kind: blockSkip}
	if l.written[key] {
		return
	}
	body := fmt.Sprintf("Job: %s\nSkipped: The analysis was previously generated.\n", job)
	if err := l.appendBlock(workflow.Log, job.Description, body); err != nil {
		l.Warnf("Failed to write skip notice to %q: %v", workflow.Log, err)
		return
	}
	l.written[key] = true
}

// JobNotRun logs that a job never started because its workflow failed.
// Written only when the logfile already exists: a workflow that failed
// before producing any report keeps an empty log out of the way.
func (l *OperatorLog) JobNotRun(workflow *models.Workflow, job *models.Job) {
	if workflow.Log == "" || !util.IsFile(workflow.Log) {
		return
	}
	key := logKey{workflowID: workflow.ID, job: job, kind: blockNotRun}
	if l.written[key] {
		return
	}
	body := fmt.Sprintf("Job: %s\nThe job was not run.\n", job)
	if err := l.appendBlock(workflow.Log, job.Description, body); err != nil {
		l.Warnf("Failed to write not-run notice to %q: %v", workflow.Log, err)
		return
	}
	l.written[key] = true
}

func (l *OperatorLog) appendBlock(path, description, body string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "error opening workflow log")
	}
	defer file.Close()
	rule := strings.Repeat("#", hashRuleLength)
	_, err = fmt.Fprintf(file, "%s\n%s\n%s%s\n\n", rule, description, body, rule)
	if err != nil {
		return errors.Wrap(err, "error appending to workflow log")
	}
	return nil
}
