package models

import (
	"database/sql/driver"
	"fmt"
)

// Status is the lifecycle state of a workflow. Persisted as an integer;
// the wire always carries the name.
type Status int

const (
	StatusInitialized Status = iota
	StatusScheduled
	StatusRunning
	StatusCompleted
	StatusCancelled
	StatusStopped
	StatusFailed
	StatusNotFound
	StatusError
)

var statusNames = map[Status]string{
	StatusInitialized: "Initialized",
	StatusScheduled:   "Scheduled",
	StatusRunning:     "Running",
	StatusCompleted:   "Completed",
	StatusCancelled:   "Cancelled",
	StatusStopped:     "Stopped",
	StatusFailed:      "Failed",
	StatusNotFound:    "NotFound",
	StatusError:       "Error",
}

var statusMessages = map[Status]string{
	StatusInitialized: "The workflow %v has been initialized.",
	StatusScheduled:   "The workflow %v has been scheduled.",
	StatusRunning:     "The workflow %v is running.",
	StatusCompleted:   "The workflow %v was completed.",
	StatusCancelled:   "The workflow %v has been cancelled.",
	StatusStopped:     "The workflow %v has been stopped.",
	StatusFailed:      "The workflow %v failed.",
	StatusNotFound:    "The workflow %v was not found.",
	StatusError:       "The workflow %v has errors.",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Name returns the human name of the status, e.g. "Running". This is the
// form used in every wire response.
func (s Status) Name() string {
	name, ok := statusNames[s]
	if !ok {
		return statusNames[StatusError]
	}
	return name
}

func (s Status) String() string {
	return s.Name()
}

// Message renders the operator-facing message for the status, applied to a
// workflow identifier.
func (s Status) Message(workflow interface{}) string {
	msg, ok := statusMessages[s]
	if !ok {
		msg = statusMessages[StatusError]
	}
	return fmt.Sprintf(msg, workflow)
}

// Terminal reports whether the workflow will make no further progress.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusStopped, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus resolves a status name back to its code.
func ParseStatus(name string) (Status, error) {
	for code, n := range statusNames {
		if n == name {
			return code, nil
		}
	}
	return StatusError, fmt.Errorf("error unknown status name %q", name)
}

func (s *Status) Scan(src interface{}) error {
	if src == nil {
		*s = StatusNotFound
		return nil
	}
	switch v := src.(type) {
	case int64:
		*s = Status(v)
	case int:
		*s = Status(v)
	default:
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	if !s.Valid() {
		return fmt.Errorf("error invalid status code %d", int(*s))
	}
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return int64(s), nil
}
