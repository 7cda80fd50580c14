package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// reportTimeout bounds a single Complete/Fail call, including transport retries.
const reportTimeout = 30 * time.Second

// lockTimeout is how long the orchestrator keeps an activated item locked.
// The invocation clock starts after activation and the semaphore wait, so the
// lock outlives it by the time a report may take.
func lockTimeout(invocationTimeout time.Duration) time.Duration {
	return invocationTimeout + reportTimeout
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	StepType          string `json:"stepType"`
	Worker            string `json:"worker"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
	Active            int64  `json:"active"`
	Claimed           int64  `json:"claimed"`
	Completed         int64  `json:"completed"`
	Failed            int64  `json:"failed"`
	TimedOut          int64  `json:"timedOut"`
	ReportErrors      int64  `json:"reportErrors"`
	Duplicates        int64  `json:"duplicates"`
	Abandoned         int64  `json:"abandoned"`
}

type counters struct {
	active       atomic.Int64
	claimed      atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	timedOut     atomic.Int64
	reportErrors atomic.Int64
	duplicates   atomic.Int64
	abandoned    atomic.Int64
}

// worker polls one step type and runs its handler on a bounded pool.
type worker struct {
	stepType string
	name     string
	handler  Handler
	config   WorkerConfig
	skip     *vm.Program
	client   Orchestrator
	l        *slog.Logger
	inst     *instruments
	sem      *semaphore.Weighted
	inflight sync.Map // item ID -> struct{}
	wg       sync.WaitGroup
	stats    counters
}

// invocation is what the handler goroutine hands back: a result, or the
// failure raised while producing it.
type invocation struct {
	result  StepResult
	failure *StepError
}

func (w *worker) run(pollCtx, invokeCtx context.Context) {
	w.l.InfoContext(pollCtx, fmt.Sprintf("Worker started: %s", w.name),
		"step_type", w.stepType,
		"max_jobs", w.config.MaxConcurrentJobs,
		"timeout", w.config.InvocationTimeout,
		"poll_interval", w.config.PollInterval)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		w.activate(pollCtx, invokeCtx)

		select {
		case <-pollCtx.Done():
			w.l.InfoContext(invokeCtx, fmt.Sprintf("Worker stopped claiming: %s", w.name))
			return
		case <-ticker.C:
		}
	}
}

func (w *worker) activate(pollCtx, invokeCtx context.Context) {
	free := int64(w.config.MaxConcurrentJobs) - w.stats.active.Load()
	if free <= 0 || pollCtx.Err() != nil {
		return
	}

	items, err := w.client.Activate(pollCtx, ActivateRequest{
		StepType:       w.stepType,
		Worker:         w.name,
		MaxJobs:        int(free),
		Timeout:        lockTimeout(w.config.InvocationTimeout),
		RequestTimeout: w.config.PollInterval,
	})
	if err != nil {
		if pollCtx.Err() == nil {
			w.l.ErrorContext(pollCtx, "Failed to activate work items",
				"step_type", w.stepType,
				"error", err)
		}
		return
	}

	for _, item := range items {
		w.dispatch(invokeCtx, item)
	}
}

// dispatch starts the invocation of a claimed item. Items beyond
// MaxConcurrentJobs wait on the semaphore until a slot frees.
func (w *worker) dispatch(ctx context.Context, item WorkItem) {
	if item.StepType == "" {
		item.StepType = w.stepType
	}

	if _, loaded := w.inflight.LoadOrStore(item.ID, struct{}{}); loaded {
		w.stats.duplicates.Add(1)
		w.l.WarnContext(ctx, "Skipping work item already in flight",
			"step_type", w.stepType,
			"item_id", item.ID)
		return
	}

	w.stats.claimed.Add(1)
	w.stats.active.Add(1)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer w.stats.active.Add(-1)
		defer w.inflight.Delete(item.ID)

		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Not reported: the orchestrator re-activates the item once its lock expires.
			w.l.WarnContext(context.WithoutCancel(ctx), "Dropping queued work item, runtime is shutting down",
				"step_type", w.stepType,
				"item_id", item.ID)
			return
		}
		defer w.sem.Release(1)

		w.process(ctx, item)
	}()
}

func (w *worker) process(ctx context.Context, item WorkItem) {
	ctx, span := tracer.Start(ctx, "step "+w.stepType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("saga.step_type", w.stepType),
			attribute.String("saga.item_id", item.ID),
			attribute.String("saga.process_instance", item.ProcessInstanceKey),
			attribute.Int("saga.remaining_retries", item.RemainingRetries),
		))
	defer span.End()

	w.l.InfoContext(ctx, fmt.Sprintf("Starting handler: %s", w.stepType),
		"item_id", item.ID,
		"remaining_retries", item.RemainingRetries)

	start := time.Now()
	result, failure := w.invoke(ctx, item)

	if failure != nil && failure.Code == CodeContextCancelled {
		// Not reported: the worker is going away, which is no fault of the
		// item. The orchestrator re-activates it once its lock expires.
		w.stats.abandoned.Add(1)
		span.SetStatus(codes.Error, failure.Message)
		w.l.WarnContext(context.WithoutCancel(ctx), "Abandoning in-flight work item, runtime is shutting down",
			"step_type", w.stepType,
			"item_id", item.ID)
		w.inst.recordInvocation(context.WithoutCancel(ctx), w.stepType, "abandoned", time.Since(start))
		return
	}

	outcome := "completed"
	switch r := result.(type) {
	case Completed:
		w.stats.completed.Add(1)
		w.reportComplete(ctx, item, r)
	case Failed:
		outcome = "failed"
		if failure != nil && failure.Type == FailureTimeout {
			outcome = "timeout"
			w.stats.timedOut.Add(1)
		}
		w.stats.failed.Add(1)
		span.SetStatus(codes.Error, r.ErrorMessage)
		span.SetAttributes(attribute.Int("saga.retries_reported", r.RetriesRemaining))
		w.reportFail(ctx, item, r)
	}

	w.inst.recordInvocation(ctx, w.stepType, outcome, time.Since(start))
}

// invoke runs the handler under the invocation timeout and returns exactly
// one Completed or Failed, except when the runtime cancels the invocation on
// shutdown. A result that arrives after the deadline stays in the buffered
// channel and is dropped.
func (w *worker) invoke(ctx context.Context, item WorkItem) (StepResult, *StepError) {
	invokeCtx, cancel := context.WithTimeout(ctx, w.config.InvocationTimeout)
	defer cancel()

	exec := NewExecution(invokeCtx, item, w.name, w.l)

	done := make(chan invocation, 1)
	go func() {
		done <- w.call(exec)
	}()

	select {
	case inv := <-done:
		return w.settle(exec, inv)
	case <-invokeCtx.Done():
		if errors.Is(invokeCtx.Err(), context.Canceled) {
			// no result: the caller leaves the item to the orchestrator
			return nil, &StepError{
				Type:     FailureTransient,
				Code:     CodeContextCancelled,
				Message:  "invocation cancelled: runtime is shutting down",
				StepType: w.stepType,
				ItemID:   item.ID,
				Retries:  item.RemainingRetries,
			}
		}
		return w.fail(exec, &StepError{
			Type:    FailureTimeout,
			Code:    CodeDeadlineExceeded,
			Message: fmt.Sprintf("handler timed out after %s", w.config.InvocationTimeout),
			Retries: item.DecrementedRetries(),
		})
	}
}

// call runs the handler and contains any panic.
func (w *worker) call(exec *Execution) (inv invocation) {
	defer func() {
		if r := recover(); r != nil {
			inv = invocation{failure: &StepError{
				Type:    FailurePermanent,
				Code:    CodeHandlerPanic,
				Message: fmt.Sprintf("handler panic: %v", r),
			}}
		}
	}()

	result, err := w.handler.Handle(exec)
	if err != nil {
		return invocation{failure: &StepError{
			Type:    FailureTransient,
			Code:    CodeHandlerError,
			Message: err.Error(),
		}}
	}
	return invocation{result: result}
}

// settle turns whatever the handler produced into the result to report.
func (w *worker) settle(exec *Execution, inv invocation) (StepResult, *StepError) {
	decremented := exec.item.DecrementedRetries()

	if inv.failure != nil {
		inv.failure.Retries = decremented
		return w.fail(exec, inv.failure)
	}

	switch r := inv.result.(type) {
	case *Completed:
		if r != nil {
			return w.settle(exec, invocation{result: *r})
		}
	case *Failed:
		if r != nil {
			return w.settle(exec, invocation{result: *r})
		}
	case Completed:
		if keys := reservedKeys(r.OutputVariables); len(keys) > 0 {
			sort.Strings(keys)
			return w.fail(exec, &StepError{
				Type:    FailurePermanent,
				Code:    CodeReservedKey,
				Message: fmt.Sprintf("output variables %v use the reserved prefix %q", keys, ReservedPrefix),
				Retries: decremented,
			})
		}
		return Complete(r.OutputVariables), nil
	case Failed:
		return w.fail(exec, &StepError{
			Type:    FailureTransient,
			Code:    CodeHandlerFailed,
			Message: r.ErrorMessage,
			Retries: min(r.RetriesRemaining, decremented),
		})
	}

	return w.fail(exec, &StepError{
		Type:    FailurePermanent,
		Code:    CodeInvalidResult,
		Message: fmt.Sprintf("handler returned no result (%T)", inv.result),
		Retries: decremented,
	})
}

// fail applies the retry budget and the skip-retry condition.
func (w *worker) fail(exec *Execution, failure *StepError) (StepResult, *StepError) {
	failure.StepType = w.stepType
	failure.ItemID = exec.item.ID
	failure.Retries = w.config.capRetries(failure.Retries)

	skip, err := skipRetry(w.skip, failure, exec.item.Variables)
	if err != nil {
		exec.Logger.WarnContext(exec, "Ignoring skip-retry condition", "error", err)
	}
	if skip {
		failure.Retries = 0
	}

	exec.Logger.WarnContext(exec, fmt.Sprintf("Handler failed: %s", w.stepType),
		"type", failure.Type,
		"code", failure.Code,
		"retries", failure.Retries,
		"error", failure.Message)

	return Failed{ErrorMessage: failure.Message, RetriesRemaining: failure.Retries}, failure
}

// reportComplete sends the completion. A failed report is logged and never
// causes the handler to run again.
func (w *worker) reportComplete(ctx context.Context, item WorkItem, r Completed) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := w.client.Complete(reportCtx, item.ID, r.OutputVariables); err != nil {
		w.stats.reportErrors.Add(1)
		w.inst.recordReportError(ctx, w.stepType, "complete")
		w.l.ErrorContext(ctx, "Failed to report completion",
			"step_type", w.stepType,
			"item_id", item.ID,
			"error", err)
		return
	}

	w.l.InfoContext(ctx, fmt.Sprintf("Completed handler: %s", w.stepType), "item_id", item.ID)
}

func (w *worker) reportFail(ctx context.Context, item WorkItem, r Failed) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := w.client.Fail(reportCtx, item.ID, r.RetriesRemaining, r.ErrorMessage); err != nil {
		w.stats.reportErrors.Add(1)
		w.inst.recordReportError(ctx, w.stepType, "fail")
		w.l.ErrorContext(ctx, "Failed to report failure",
			"step_type", w.stepType,
			"item_id", item.ID,
			"retries", r.RetriesRemaining,
			"error", err)
	}
}

func (w *worker) snapshot() WorkerStats {
	return WorkerStats{
		StepType:          w.stepType,
		Worker:            w.name,
		MaxConcurrentJobs: w.config.MaxConcurrentJobs,
		Active:            w.stats.active.Load(),
		Claimed:           w.stats.claimed.Load(),
		Completed:         w.stats.completed.Load(),
		Failed:            w.stats.failed.Load(),
		TimedOut:          w.stats.timedOut.Load(),
		ReportErrors:      w.stats.reportErrors.Load(),
		Duplicates:        w.stats.duplicates.Load(),
		Abandoned:         w.stats.abandoned.Load(),
	}
}
