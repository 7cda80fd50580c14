package runtime

import (
	"encoding/json"
	"fmt"
)

// StepResult is the terminal outcome of one handler invocation.
// It is either Completed or Failed; the runtime switches on the concrete type.
type StepResult interface {
	stepResult()
}

// Completed carries the variables merged into the saga's variable set.
type Completed struct {
	OutputVariables map[string]any
}

// Failed asks the orchestrator to redispatch the item while RetriesRemaining > 0,
// or to take the compensation path once it reaches 0.
type Failed struct {
	ErrorMessage     string
	RetriesRemaining int
}

func (Completed) stepResult() {}
func (Failed) stepResult()    {}

func Complete(vars map[string]any) Completed {
	if vars == nil {
		vars = map[string]any{}
	}
	return Completed{OutputVariables: vars}
}

func Fail(retries int, format string, args ...any) Failed {
	if retries < 0 {
		retries = 0
	}
	return Failed{
		ErrorMessage:     fmt.Sprintf(format, args...),
		RetriesRemaining: retries,
	}
}

// CompleteStruct builds a Completed result from a struct with json tags.
func CompleteStruct(output any) (StepResult, error) {
	vars, err := structToMap(output)
	if err != nil {
		return nil, err
	}
	return Complete(vars), nil
}

// structToMap converts a struct to map[string]any using JSON round-trip.
// This respects json tags and properly handles nested structs.
func structToMap(s any) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
	}

	return result, nil
}
