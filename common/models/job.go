package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/structs"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/lyonslab/yerba/common/util"
)

const (
	// MaxTaskOutput caps the captured stdout/stderr carried in a job's info
	// record at 64 KiB.
	MaxTaskOutput = 65536

	// InfoTimeFormat renders the submitted/ended timestamps in job info
	// records and operator logs.
	InfoTimeFormat = "02/01/06 at 03:04:05PM"
)

// PathEntry is one declared input or output: either a plain file path or a
// (path, is-directory) pair.
type PathEntry struct {
	Path  string
	IsDir bool

	// pair records which JSON shape the entry arrived in, so the canonical
	// blob round-trips.
	pair    bool
	invalid bool
}

func NewPathEntry(path string) PathEntry {
	return PathEntry{Path: path}
}

func NewDirEntry(path string) PathEntry {
	return PathEntry{Path: path, IsDir: true, pair: true}
}

func (p PathEntry) Valid() bool {
	return !p.invalid && p.Path != ""
}

// Key is the entry's identity for fingerprinting; directories are
// distinguished from files with the same path.
func (p PathEntry) Key() string {
	if p.IsDir {
		return p.Path + "/"
	}
	return p.Path
}

func (p *PathEntry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Path = s
		return nil
	}
	var pair []interface{}
	if err := json.Unmarshal(b, &pair); err == nil {
		p.pair = true
		if len(pair) >= 1 {
			if path, ok := pair[0].(string); ok {
				p.Path = path
			} else {
				p.invalid = true
			}
		}
		if len(pair) >= 2 {
			switch v := pair[1].(type) {
			case bool:
				p.IsDir = v
			case float64:
				p.IsDir = v != 0
			}
		}
		if len(pair) == 0 {
			p.invalid = true
		}
		return nil
	}
	// null or any other shape is an invalid entry, reported through
	// validation rather than a decode failure.
	p.invalid = true
	return nil
}

func (p PathEntry) MarshalJSON() ([]byte, error) {
	if p.pair {
		return json.Marshal([]interface{}{p.Path, p.IsDir})
	}
	return json.Marshal(p.Path)
}

// Arg is one command argument triple: flag, value, and whether an absolute
// path value should be shortened to its basename when rendered.
type Arg struct {
	Flag    string
	Value   interface{}
	Shorten int

	invalid bool
}

func (a *Arg) UnmarshalJSON(b []byte) error {
	var tuple []interface{}
	if err := json.Unmarshal(b, &tuple); err != nil || len(tuple) < 2 {
		a.invalid = true
		return nil
	}
	flag, ok := tuple[0].(string)
	if !ok {
		a.invalid = true
		return nil
	}
	a.Flag = flag
	a.Value = tuple[1]
	if len(tuple) >= 3 {
		if shorten, ok := tuple[2].(float64); ok {
			a.Shorten = int(shorten)
		}
	}
	return nil
}

func (a Arg) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{a.Flag, a.Value, a.Shorten})
}

// Render appends the argument to a command line: " <flag> <value>", with
// absolute path values reduced to their basename when shorten is set.
func (a Arg) Render() string {
	val := fmt.Sprintf("%v", a.Value)
	if a.Shorten == 1 && filepath.IsAbs(val) {
		val = filepath.Base(val)
	}
	return fmt.Sprintf(" %s %s", a.Flag, val)
}

// JobOptions controls how a job's completion and retries are judged.
type JobOptions struct {
	AcceptedReturnCodes []int `json:"accepted-return-codes"`
	AllowZeroLength     bool  `json:"allow-zero-length"`
	Retries             int   `json:"retries"`
}

func DefaultJobOptions() JobOptions {
	return JobOptions{
		AcceptedReturnCodes: []int{0},
		AllowZeroLength:     true,
		Retries:             0,
	}
}

// Accepts reports whether the return status counts as success.
func (o JobOptions) Accepts(code int) bool {
	for _, accepted := range o.AcceptedReturnCodes {
		if code == accepted {
			return true
		}
	}
	return false
}

// OutputDigest records the checksum and sniffed kind of one produced
// output file.
type OutputDigest struct {
	Path   string `json:"path" structs:"path"`
	Digest string `json:"digest" structs:"digest"`
	Kind   string `json:"kind,omitempty" structs:"kind,omitempty"`
}

// JobInfo is the record filled in when a task completes. Field names match
// the keys exposed in job state snapshots and operator logs.
type JobInfo struct {
	Cmd       string         `json:"cmd" structs:"cmd"`
	Started   string         `json:"started" structs:"started"`
	Ended     string         `json:"ended" structs:"ended"`
	Elapsed   float64        `json:"elapsed" structs:"elapsed"`
	TaskID    TaskID         `json:"taskid" structs:"taskid"`
	Returned  int            `json:"returned" structs:"returned"`
	Output    string         `json:"output" structs:"output"`
	Outputs   string         `json:"outputs,omitempty" structs:"outputs,omitempty"`
	Artifacts []OutputDigest `json:"artifacts,omitempty" structs:"artifacts,omitempty"`
}

// JobError is a per-job validation failure. It marshals as the wire tuple
// [index, reason].
type JobError struct {
	Index  int
	Reason string
}

func (e JobError) Error() string {
	return fmt.Sprintf("job %d: %s", e.Index, e.Reason)
}

func (e JobError) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Index, e.Reason})
}

func (e *JobError) UnmarshalJSON(b []byte) error {
	var tuple []interface{}
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("error malformed job error: %s", string(b))
	}
	index, ok := tuple[0].(float64)
	if !ok {
		return fmt.Errorf("error malformed job error index: %s", string(b))
	}
	reason, ok := tuple[1].(string)
	if !ok {
		return fmt.Errorf("error malformed job error reason: %s", string(b))
	}
	e.Index = int(index)
	e.Reason = reason
	return nil
}

// Job is a single command invocation with declared inputs and outputs. The
// identity fields are fixed at construction; state advances as the
// scheduler and queue report progress.
type Job struct {
	Cmd         string
	Script      string
	Args        string
	Description string
	Inputs      []PathEntry
	Outputs     []PathEntry
	Options     JobOptions
	Status      JobState
	Attempts    int
	Info        *JobInfo
	Errors      []string

	fingerprint uint64
}

// CommandLine is the fully rendered command submitted to the queue.
func (j *Job) CommandLine() string {
	return j.Cmd + j.Args
}

func (j *Job) String() string {
	return j.CommandLine()
}

// Ready reports whether every declared input is present: directory entries
// must be directories, files must exist and, when allow-zero-length is off,
// be non-empty.
func (j *Job) Ready() bool {
	for _, entry := range j.Inputs {
		if entry.IsDir {
			if !util.IsDir(entry.Path) {
				return false
			}
			continue
		}
		if !util.IsFile(entry.Path) {
			return false
		}
		if !j.Options.AllowZeroLength && util.IsEmptyFile(entry.Path) {
			return false
		}
	}
	return true
}

// Completed reports whether the job's work is done. With no declared
// outputs the observed return status decides; otherwise every output must
// be present under the zero-length policy. The returned argument supplies a
// status when no info record is attached yet; pass nil when none is known.
func (j *Job) Completed(returned *int) bool {
	if len(j.Outputs) == 0 {
		r := returned
		if j.Info != nil {
			r = &j.Info.Returned
		}
		if r == nil {
			return false
		}
		return j.Options.Accepts(*r)
	}
	for _, entry := range j.Outputs {
		if entry.IsDir {
			if !util.IsDir(entry.Path) {
				return false
			}
			continue
		}
		if !util.IsFile(entry.Path) {
			return false
		}
		if !j.Options.AllowZeroLength && util.IsEmptyFile(entry.Path) {
			return false
		}
	}
	return true
}

// Restart re-queues the job for another attempt.
func (j *Job) Restart() {
	j.Attempts++
	j.Status = JobStateWaiting
}

// Exhausted reports whether the job has used up its first run plus every
// configured retry.
func (j *Job) Exhausted() bool {
	return j.Attempts > j.Options.Retries
}

// ClearOutputs removes declared outputs ahead of a re-run. Missing paths
// are fine.
func (j *Job) ClearOutputs() {
	for _, entry := range j.Outputs {
		if entry.IsDir {
			_ = os.RemoveAll(entry.Path)
		} else {
			_ = os.Remove(entry.Path)
		}
	}
}

// Fingerprint is the stable identity used for task coalescing: two jobs
// with the same rendered command and the same sorted inputs and outputs
// share one task.
func (j *Job) Fingerprint() uint64 {
	if j.fingerprint != 0 {
		return j.fingerprint
	}
	identity := struct {
		Command string
		Inputs  []string
		Outputs []string
	}{
		Command: j.CommandLine(),
		Inputs:  sortedKeys(j.Inputs),
		Outputs: sortedKeys(j.Outputs),
	}
	hash, err := hashstructure.Hash(identity, hashstructure.FormatV2, nil)
	if err != nil {
		hash = 1
	}
	j.fingerprint = hash
	return j.fingerprint
}

func sortedKeys(entries []PathEntry) []string {
	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key()
	}
	sort.Strings(keys)
	return keys
}

// State is the snapshot exposed by get_status: status, description and
// errors, merged with every field of the info record.
func (j *Job) State() map[string]interface{} {
	state := map[string]interface{}{
		"status":      string(j.Status),
		"description": j.Description,
		"errors":      j.Errors,
	}
	if j.Info != nil {
		for k, v := range structs.Map(j.Info) {
			state[k] = v
		}
	}
	return state
}
