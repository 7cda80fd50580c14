package runtime

import "context"

// Orchestrator is the runtime's handle on the external workflow engine.
// It is opened once at startup, shared by every worker and released on shutdown.
type Orchestrator interface {
	// Activate claims up to req.MaxJobs work items of req.StepType.
	Activate(ctx context.Context, req ActivateRequest) ([]WorkItem, error)
	// Complete reports a successful invocation; variables are merged into
	// the saga's variable set.
	Complete(ctx context.Context, itemID string, variables map[string]any) error
	// Fail reports a failed invocation; the orchestrator redispatches the
	// item while retries > 0, otherwise it follows the compensation path.
	Fail(ctx context.Context, itemID string, retries int, errorMessage string) error
}

// Initializer allows the orchestrator handle to perform startup initialization.
// Runtime.Start calls Initialize before any poller runs.
type Initializer interface {
	// Initialize is called once when the runtime starts.
	// Use this to establish connections, initialize clients, etc.
	Initialize(ctx context.Context) error
}

// Shutdowner allows the orchestrator handle to release its resources.
// Runtime.Shutdown calls it after the pollers stopped.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}
