package models

import (
	"encoding/json"
	"fmt"
)

// Validation reasons, worded exactly as clients have always seen them.
const (
	reasonNoCommand  = "The command name was not specified"
	reasonArgsList   = "The job expected a list of arguments"
	reasonInputList  = "The job expected a list of inputs"
	reasonOutputList = "The job expected a list of outputs"
	reasonBadInput   = "An input was invalid"
	reasonBadOutput  = "An output was invalid"

	reasonNoJobs = "The workflow does not contain any jobs."
)

// ValidationError rejects a workflow specification, carrying the per-job
// failures that are returned to the client.
type ValidationError struct {
	Message   string
	JobErrors []JobError
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ArgList tolerates a malformed args field so the failure surfaces as a
// per-job validation reason instead of a request decode error.
type ArgList struct {
	Items   []Arg
	Invalid bool
}

func (l *ArgList) UnmarshalJSON(b []byte) error {
	var items []Arg
	if err := json.Unmarshal(b, &items); err != nil {
		l.Invalid = true
		return nil
	}
	l.Items = items
	return nil
}

func (l ArgList) MarshalJSON() ([]byte, error) {
	if len(l.Items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Items)
}

func (l ArgList) valid() bool {
	if l.Invalid {
		return false
	}
	for _, arg := range l.Items {
		if arg.invalid {
			return false
		}
	}
	return true
}

// PathList is the inputs/outputs shape with the same tolerance as ArgList.
type PathList struct {
	Items   []PathEntry
	Invalid bool
}

func (l *PathList) UnmarshalJSON(b []byte) error {
	var items []PathEntry
	if err := json.Unmarshal(b, &items); err != nil {
		l.Invalid = true
		return nil
	}
	l.Items = items
	return nil
}

func (l PathList) MarshalJSON() ([]byte, error) {
	if len(l.Items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Items)
}

func (l PathList) entriesValid() bool {
	for _, entry := range l.Items {
		if !entry.Valid() {
			return false
		}
	}
	return true
}

// OptionsSpec overlays submitted option keys on the defaults; absent keys
// keep their default values.
type OptionsSpec struct {
	AcceptedReturnCodes *[]int `json:"accepted-return-codes,omitempty"`
	AllowZeroLength     *bool  `json:"allow-zero-length,omitempty"`
	Retries             *int   `json:"retries,omitempty"`
}

func (o *OptionsSpec) Merge() JobOptions {
	opts := DefaultJobOptions()
	if o == nil {
		return opts
	}
	if o.AcceptedReturnCodes != nil {
		opts.AcceptedReturnCodes = *o.AcceptedReturnCodes
	}
	if o.AllowZeroLength != nil {
		opts.AllowZeroLength = *o.AllowZeroLength
	}
	if o.Retries != nil {
		opts.Retries = *o.Retries
	}
	return opts
}

// JobSpec is one job as submitted by a client.
type JobSpec struct {
	Cmd         string       `json:"cmd"`
	Script      string       `json:"script,omitempty"`
	Args        ArgList      `json:"args"`
	Inputs      PathList     `json:"inputs"`
	Outputs     PathList     `json:"outputs"`
	Description string       `json:"description,omitempty"`
	Overwrite   int          `json:"overwrite,omitempty"`
	Options     *OptionsSpec `json:"options,omitempty"`
}

// validate returns the first problem with the job, or the empty string.
func (s *JobSpec) validate() string {
	if s.Cmd == "" {
		return reasonNoCommand
	}
	if !s.Args.valid() {
		return reasonArgsList
	}
	if s.Inputs.Invalid {
		return reasonInputList
	}
	if s.Outputs.Invalid {
		return reasonOutputList
	}
	if !s.Inputs.entriesValid() {
		return reasonBadInput
	}
	if !s.Outputs.entriesValid() {
		return reasonBadOutput
	}
	return ""
}

// WorkflowSpec is the submitted shape of a workflow. The optional ID
// requests resubmission of an existing workflow.
type WorkflowSpec struct {
	Name     string     `json:"name,omitempty"`
	Priority int        `json:"priority,omitempty"`
	Logfile  string     `json:"logfile,omitempty"`
	ID       WorkflowID `json:"id,omitempty"`
	Jobs     []JobSpec  `json:"jobs"`
}

// Validate checks the specification, returning a ValidationError carrying
// per-job (index, reason) failures. No partial workflow results from an
// invalid spec.
func (s *WorkflowSpec) Validate() *ValidationError {
	if len(s.Jobs) == 0 {
		return &ValidationError{Message: reasonNoJobs}
	}
	var jobErrors []JobError
	for index := range s.Jobs {
		if reason := s.Jobs[index].validate(); reason != "" {
			jobErrors = append(jobErrors, JobError{Index: index, Reason: reason})
		}
	}
	if jobErrors != nil {
		return &ValidationError{
			Message:   fmt.Sprintf("%d jobs were not valid.", len(jobErrors)),
			JobErrors: jobErrors,
		}
	}
	return nil
}

// CanonicalJobs is the deduplication key: the canonical JSON of the
// submitted jobs array. Identical job arrays always produce identical
// bytes.
func (s *WorkflowSpec) CanonicalJobs() ([]byte, error) {
	return json.Marshal(s.Jobs)
}

// NewJob builds the live job from its spec: arguments are rendered into
// the command line once, options are overlaid on defaults, and overwrite
// clears stale outputs.
func NewJob(spec *JobSpec) *Job {
	args := ""
	for _, arg := range spec.Args.Items {
		args += arg.Render()
	}
	job := &Job{
		Cmd:         spec.Cmd,
		Script:      spec.Script,
		Args:        args,
		Description: spec.Description,
		Inputs:      spec.Inputs.Items,
		Outputs:     spec.Outputs.Items,
		Options:     spec.Options.Merge(),
		Status:      JobStateWaiting,
		Attempts:    1,
	}
	if spec.Overwrite != 0 {
		job.ClearOutputs()
	}
	return job
}

// NewWorkflow constructs a workflow from a validated spec. Callers must
// run Validate first; construction does not re-check.
func NewWorkflow(spec *WorkflowSpec) *Workflow {
	name := spec.Name
	if name == "" {
		name = "unnamed"
	}
	jobs := make([]*Job, len(spec.Jobs))
	for i := range spec.Jobs {
		jobs[i] = NewJob(&spec.Jobs[i])
	}
	return newWorkflow(name, spec.Logfile, spec.Priority, jobs)
}
