package runtime

import "time"

// WorkerConfig is the per-step-type execution policy.
type WorkerConfig struct {
	// MaxConcurrentJobs bounds concurrent handler invocations of the step type.
	MaxConcurrentJobs int `yaml:"max_jobs" default:"5" validate:"gte=1,lte=1000"`
	// InvocationTimeout is the hard wall-clock limit of one invocation.
	InvocationTimeout time.Duration `yaml:"timeout" default:"2m" validate:"gte=1ms"`
	PollInterval      time.Duration `yaml:"poll_interval" default:"100ms" validate:"gte=1ms"`
	// RetryBudget caps the retries reported on any failure; nil means only the
	// per-attempt decrement applies.
	RetryBudget *int `yaml:"retry_budget" validate:"omitempty,gte=0"`
	// SkipRetryWhen is an expr-lang condition; when it holds for a failure the
	// runtime reports 0 retries so the orchestrator compensates right away.
	// Example: failure.type == "timeout"
	SkipRetryWhen string `yaml:"skip_retry_when" validate:"omitempty,expr_condition"`
}

// DefaultWorkerConfig returns the defaults declared on WorkerConfig.
func DefaultWorkerConfig() WorkerConfig {
	var config WorkerConfig
	_ = ApplyDefaults(&config)
	return config
}

// Budget returns a RetryBudget value.
func Budget(retries int) *int {
	return &retries
}

func (c WorkerConfig) capRetries(retries int) int {
	if retries < 0 {
		retries = 0
	}
	if c.RetryBudget != nil && retries > *c.RetryBudget {
		return *c.RetryBudget
	}
	return retries
}
