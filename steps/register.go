package steps

import (
	"fmt"

	"github.com/BDNK1/sagaworker/runtime"
)

// Register registers a worker for every step type. overrides carries the
// per-step worker config; a RetryBudget there may tighten the step policy but
// never loosen it, so transfer-to-merchant always reports 0 retries.
func Register(rt *runtime.Runtime, h *Handlers, overrides map[string]runtime.WorkerConfig) error {
	for _, p := range Policies {
		handler, ok := h.Handler(p.StepType)
		if !ok {
			return fmt.Errorf("no handler for step type %s", p.StepType)
		}

		config := overrides[p.StepType]
		if p.RetryBudget != nil && (config.RetryBudget == nil || *config.RetryBudget > *p.RetryBudget) {
			config.RetryBudget = p.RetryBudget
		}

		if err := rt.RegisterWorker(p.StepType, handler, config); err != nil {
			return fmt.Errorf("failed to register %s: %w", p.StepType, err)
		}
	}
	return nil
}
