package models

// JobState is the lifecycle state of a single job within a workflow.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateScheduled JobState = "scheduled"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
	JobStateStopped   JobState = "stopped"
	JobStateSkipped   JobState = "skipped"
)

var readyStates = map[JobState]bool{
	JobStateWaiting:   true,
	JobStateScheduled: true,
}

var liveStates = map[JobState]bool{
	JobStateWaiting:   true,
	JobStateScheduled: true,
	JobStateRunning:   true,
}

var finishedStates = map[JobState]bool{
	JobStateStopped:   true,
	JobStateCancelled: true,
	JobStateFailed:    true,
	JobStateCompleted: true,
	JobStateSkipped:   true,
}

func (s JobState) String() string {
	return string(s)
}

// Selectable reports whether a job in this state may be picked up by the
// next dispatch pass.
func (s JobState) Selectable() bool {
	return readyStates[s]
}

// Live reports whether the job is still in flight: not yet resolved to a
// finished state.
func (s JobState) Live() bool {
	return liveStates[s]
}

func (s JobState) Finished() bool {
	return finishedStates[s]
}
