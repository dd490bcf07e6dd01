package workqueue

import (
	"time"
)

// TaskID identifies a submitted task for the lifetime of the queue.
type TaskID int

// FileSpec declares one file or directory a task reads or writes.
// RemoteName is the name the task sees in its working namespace; workers
// that stage files use it, the local queue records it for the transaction
// log.
type FileSpec struct {
	LocalPath  string
	RemoteName string
	Directory  bool
	Cache      bool
}

// TaskSpec describes a single schedulable command.
type TaskSpec struct {
	Command  string
	Inputs   []FileSpec
	Outputs  []FileSpec
	Priority int
}

// OutputDigest captures a content digest and sniffed kind for one
// declared file output.
type OutputDigest struct {
	Path   string
	Digest string
	Kind   string
}

// Result reports one finished task. Times are microseconds since the
// Unix epoch; ExecutionTime is the command's wall time in microseconds.
// Output carries the combined stdout/stderr capped at MaxOutput bytes.
type Result struct {
	TaskID        TaskID
	Command       string
	SubmitTime    int64
	FinishTime    int64
	ExecutionTime int64
	ReturnStatus  int
	Output        string
	Outputs       []OutputDigest
}

// Stats is a snapshot of queue counters, mirroring the work queue
// master's reporting fields.
type Stats struct {
	StartTime            int64 // microseconds since epoch
	TotalSendTime        int64 // microseconds spent staging inputs
	TotalReceiveTime     int64 // microseconds spent collecting outputs
	TotalBytesSent       int64
	TotalBytesReceived   int64
	TotalWorkersJoined   int
	TotalWorkersRemoved  int
	TotalTasksComplete   int
	TotalTasksDispatched int
	TasksWaiting         int
	TasksComplete        int
	TasksRunning         int
	WorkersInit          int
	WorkersReady         int
	WorkersBusy          int
	WorkersFull          int
}

// Queue is the scheduling surface the daemon consumes. Submit and Cancel
// are cheap; Wait with a zero timeout polls the completed buffer without
// blocking.
type Queue interface {
	// Submit queues a task and returns its assigned id.
	Submit(spec TaskSpec) (TaskID, error)
	// Wait returns the next completed task, or nil if none completes
	// within the timeout. A zero timeout polls.
	Wait(timeout time.Duration) *Result
	// Cancel removes a pending task or kills a running one. Returns
	// false if the task is unknown or already complete.
	Cancel(id TaskID) bool
	// Stats returns a snapshot of the queue counters.
	Stats() Stats
	// Port returns the TCP port the queue is advertised on.
	Port() int
	// Shutdown cancels outstanding work and releases the queue's
	// workers, listener and logs.
	Shutdown()
}
