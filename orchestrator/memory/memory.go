// Package memory is an in-process orchestrator. It hands out submitted work
// items, records every report and redelivers failed items while retries
// remain, which is enough to drive the saga steps without a workflow engine.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/BDNK1/sagaworker/runtime"
)

var (
	ErrClosed   = errors.New("orchestrator is closed")
	ErrNotFound = errors.New("work item not found or not activated")
)

var (
	_ runtime.Orchestrator = (*Orchestrator)(nil)
	_ runtime.Shutdowner   = (*Orchestrator)(nil)
)

// Report is one Complete or Fail call received from a worker.
type Report struct {
	ItemID    string
	StepType  string
	Completed bool
	Variables map[string]any
	Retries   int
	Message   string
}

// Terminal reports whether the item will not be redelivered after this report.
func (r Report) Terminal() bool {
	return r.Completed || r.Retries <= 0
}

type Orchestrator struct {
	l *slog.Logger

	mu        sync.Mutex
	nextKey   int64
	pending   map[string][]runtime.WorkItem
	active    map[string]runtime.WorkItem
	reports   []Report
	reportErr error
	closed    bool
	changed   chan struct{}
}

func New(l *slog.Logger) *Orchestrator {
	if l == nil {
		l = slog.Default()
	}
	return &Orchestrator{
		l:       l,
		pending: make(map[string][]runtime.WorkItem),
		active:  make(map[string]runtime.WorkItem),
		changed: make(chan struct{}),
	}
}

// Submit queues a work item and returns its ID. retries is the number of
// attempts the item gets, so values below 1 are raised to 1.
func (o *Orchestrator) Submit(stepType string, vars map[string]any, retries int) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextKey++
	id := strconv.FormatInt(o.nextKey, 10)
	o.pending[stepType] = append(o.pending[stepType], runtime.WorkItem{
		ID:                 id,
		StepType:           stepType,
		Variables:          maps.Clone(vars),
		RemainingRetries:   max(retries, 1),
		ProcessInstanceKey: "process-" + id,
		ElementInstanceKey: "element-" + id,
	})
	return id
}

// Activate claims up to req.MaxJobs items. Items whose lock expired without a
// report are offered again.
func (o *Orchestrator) Activate(ctx context.Context, req runtime.ActivateRequest) ([]runtime.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	for id, item := range o.active {
		if item.StepType == req.StepType && !item.Deadline.IsZero() && now.After(item.Deadline) {
			delete(o.active, id)
			item.Deadline = time.Time{}
			o.pending[req.StepType] = append(o.pending[req.StepType], item)
			o.l.WarnContext(ctx, "Work item lock expired, offering again",
				"step_type", req.StepType,
				"item_id", id)
		}
	}

	queue := o.pending[req.StepType]
	n := min(max(req.MaxJobs, 0), len(queue))
	if n == 0 {
		return nil, nil
	}

	items := make([]runtime.WorkItem, 0, n)
	for _, item := range queue[:n] {
		if req.Timeout > 0 {
			item.Deadline = now.Add(req.Timeout)
		}
		o.active[item.ID] = item
		item.Variables = maps.Clone(item.Variables)
		items = append(items, item)
	}
	o.pending[req.StepType] = slices.Clone(queue[n:])
	return items, nil
}

func (o *Orchestrator) Complete(ctx context.Context, itemID string, variables map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.claimed(itemID)
	if err != nil {
		return err
	}

	delete(o.active, itemID)
	o.record(Report{
		ItemID:    itemID,
		StepType:  item.StepType,
		Completed: true,
		Variables: maps.Clone(variables),
	})
	return nil
}

// Fail records the failure and queues the item again while retries > 0.
func (o *Orchestrator) Fail(ctx context.Context, itemID string, retries int, errorMessage string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.claimed(itemID)
	if err != nil {
		return err
	}

	delete(o.active, itemID)
	o.record(Report{
		ItemID:   itemID,
		StepType: item.StepType,
		Retries:  retries,
		Message:  errorMessage,
	})

	if retries > 0 {
		item.RemainingRetries = retries
		item.Deadline = time.Time{}
		o.pending[item.StepType] = append(o.pending[item.StepType], item)
	}
	return nil
}

func (o *Orchestrator) claimed(itemID string) (runtime.WorkItem, error) {
	if o.reportErr != nil {
		return runtime.WorkItem{}, o.reportErr
	}
	if o.closed {
		return runtime.WorkItem{}, ErrClosed
	}
	item, ok := o.active[itemID]
	if !ok {
		return runtime.WorkItem{}, fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	return item, nil
}

func (o *Orchestrator) record(r Report) {
	o.reports = append(o.reports, r)
	close(o.changed)
	o.changed = make(chan struct{})
}

// SetReportError makes every following Complete/Fail return err; nil restores
// normal behavior.
func (o *Orchestrator) SetReportError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reportErr = err
}

// Reports returns every report received so far, in arrival order.
func (o *Orchestrator) Reports() []Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.reports)
}

// Pending returns the number of queued, not yet activated items of a step type.
func (o *Orchestrator) Pending(stepType string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending[stepType])
}

// Await blocks until the item received a terminal report and returns it.
func (o *Orchestrator) Await(ctx context.Context, itemID string) (Report, error) {
	for {
		o.mu.Lock()
		for _, r := range o.reports {
			if r.ItemID == itemID && r.Terminal() {
				o.mu.Unlock()
				return r, nil
			}
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Report{}, fmt.Errorf("waiting for item %s: %w", itemID, ctx.Err())
		}
	}
}

// Shutdown closes the orchestrator; later activations and reports fail.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
