package runtime

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionEnv returns the environment a SkipRetryWhen condition is evaluated in:
//
//	failure.type     "transient" | "permanent" | "timeout"
//	failure.code     e.g. "DEADLINE_EXCEEDED"
//	failure.message  error text reported to the orchestrator
//	failure.retries  retries that would be reported without the condition
//	vars             input variables of the work item
func conditionEnv(failure *StepError, vars map[string]any) map[string]any {
	failureMap := map[string]any{}
	if failure != nil {
		failureMap = failure.ToMap()
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"failure": failureMap,
		"vars":    vars,
	}
}

func compileCondition(condition string) (*vm.Program, error) {
	program, err := expr.Compile(condition,
		expr.Env(conditionEnv(nil, nil)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", condition, err)
	}
	return program, nil
}

// skipRetry reports whether a failure should go straight to compensation.
func skipRetry(program *vm.Program, failure *StepError, vars map[string]any) (bool, error) {
	if program == nil {
		return false, nil
	}
	result, err := expr.Run(program, conditionEnv(failure, vars))
	if err != nil {
		return false, fmt.Errorf("error evaluating skip-retry condition: %w", err)
	}
	skip, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("skip-retry condition evaluated to %T, expected boolean", result)
	}
	return skip, nil
}
