package workflow

import "strings"

// Job lifecycle states. Succeeded jobs are discarded; DeadLettered jobs live in jobs:failed.
const (
	JobQueued       = "queued"
	JobDelayed      = "delayed"
	JobExecuting    = "executing"
	JobSucceeded    = "succeeded"
	JobDeadLettered = "dead_lettered"
	JobDropped      = "dropped"
)

// Transition names, used as log events and metric labels.
const (
	TransitionStarted   = "job_started"
	TransitionPromoted  = "job_promoted"
	TransitionSucceeded = "job_succeeded"
	TransitionRetried   = "job_retry_scheduled"
	TransitionDead      = "job_dead_lettered"
	TransitionDropped   = "job_dropped"
	TransitionReplayed  = "job_replayed"
)

var jobTransitions = map[string]map[string]string{
	JobQueued: {
		JobExecuting: TransitionStarted,
		JobDropped:   TransitionDropped,
	},
	JobDelayed: {
		JobQueued: TransitionPromoted,
	},
	JobExecuting: {
		JobSucceeded:    TransitionSucceeded,
		JobDelayed:      TransitionRetried,
		JobDeadLettered: TransitionDead,
		JobDropped:      TransitionDropped,
	},
	JobDeadLettered: {
		JobQueued: TransitionReplayed,
	},
}

func NormalizeJobState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func CanTransition(fromState string, toState string) bool {
	fromState = NormalizeJobState(fromState)
	toState = NormalizeJobState(toState)
	if fromState == toState {
		return true
	}
	_, ok := jobTransitions[fromState][toState]
	return ok
}

func TransitionFor(fromState string, toState string) string {
	fromState = NormalizeJobState(fromState)
	toState = NormalizeJobState(toState)
	if fromState == toState {
		return ""
	}
	return jobTransitions[fromState][toState]
}

// IsTerminal reports whether no further transition leaves state except an operator replay.
func IsTerminal(state string) bool {
	switch NormalizeJobState(state) {
	case JobSucceeded, JobDeadLettered, JobDropped:
		return true
	}
	return false
}

func AllJobStates() []string {
	return []string{
		JobQueued,
		JobDelayed,
		JobExecuting,
		JobSucceeded,
		JobDeadLettered,
		JobDropped,
	}
}
