package runtime

import (
	"strings"
	"time"
)

// ReservedPrefix marks variable keys that belong to the orchestrator.
// Handlers must never produce output keys starting with it.
const ReservedPrefix = "_"

// WorkItem is one claimed instance of a step awaiting execution.
//
// RemainingRetries counts the attempts left including the current one, so an
// item handed out by the orchestrator always carries at least 1.
type WorkItem struct {
	ID                 string
	StepType           string
	Variables          map[string]any
	RemainingRetries   int
	ProcessInstanceKey string
	ElementInstanceKey string
	Deadline           time.Time
}

// DecrementedRetries returns the retries left after the current attempt fails.
func (w WorkItem) DecrementedRetries() int {
	if w.RemainingRetries > 1 {
		return w.RemainingRetries - 1
	}
	return 0
}

// ActivateRequest asks the orchestrator for up to MaxJobs items of one step type.
type ActivateRequest struct {
	StepType string
	Worker   string
	MaxJobs  int
	// Timeout is how long the orchestrator keeps the items locked to this worker.
	Timeout time.Duration
	// RequestTimeout bounds how long the orchestrator may hold the activation
	// open while waiting for items.
	RequestTimeout time.Duration
}

func reservedKeys(vars map[string]any) []string {
	var keys []string
	for k := range vars {
		if strings.HasPrefix(k, ReservedPrefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
