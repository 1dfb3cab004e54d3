package crawler

import "fmt"

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusTriggered: {JobStatusRunning, JobStatusCompleted, JobStatusFailed},
	JobStatusRunning:   {JobStatusCompleted, JobStatusFailed},
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusTriggered, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the ledger may move a job from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SourceStatuses lists the statuses a job may be in to move into to.
func SourceStatuses(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusTriggered, JobStatusRunning, JobStatusCompleted, JobStatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// NonTerminalJobStatuses lists the statuses swept for completion.
func NonTerminalJobStatuses() []JobStatus {
	return []JobStatus{JobStatusTriggered, JobStatusRunning}
}
