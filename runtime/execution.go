package runtime

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
)

var _ context.Context = &Execution{}

// Execution is the per-invocation context handed to a Handler.
// It implements context.Context so the invocation deadline propagates into
// anything the handler calls, and exposes the claimed work item read-only.
type Execution struct {
	ID     string
	Worker string
	Logger *slog.Logger
	item   WorkItem
	ctx    context.Context // real context carrying deadline/cancellation
}

// context.Context implementation; delegates to the embedded ctx so that the
// invocation timeout and runtime shutdown reach the handler.

func (e *Execution) Deadline() (deadline time.Time, ok bool) {
	return e.ctx.Deadline()
}

func (e *Execution) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Execution) Err() error {
	return e.ctx.Err()
}

// Value resolves string keys against the work item variables and
// everything else against the wrapped context.
func (e *Execution) Value(key any) any {
	k, ok := key.(string)
	if !ok {
		return e.ctx.Value(key)
	}
	return e.item.Variables[k]
}

// Item returns a copy of the claimed work item.
func (e *Execution) Item() WorkItem {
	item := e.item
	item.Variables = e.Variables()
	return item
}

// Variables returns a copy of the input variables.
func (e *Execution) Variables() map[string]any {
	if e.item.Variables == nil {
		return map[string]any{}
	}
	return maps.Clone(e.item.Variables)
}

// Decode extracts a typed input record, see DecodeInput.
func (e *Execution) Decode(target any) error {
	return DecodeInput(e.item.Variables, target)
}

// WithContext returns a shallow copy of the Execution with a new embedded
// context. Mirrors the http.Request.WithContext pattern.
func (e *Execution) WithContext(ctx context.Context) *Execution {
	copy := *e
	copy.ctx = ctx
	return &copy
}

func NewExecution(ctx context.Context, item WorkItem, worker string, l *slog.Logger) *Execution {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		l = slog.Default()
	}
	id := uuid.New().String()
	return &Execution{
		ID:     id,
		Worker: worker,
		Logger: l.With("step_type", item.StepType, "item_id", item.ID, "execution_id", id),
		item:   item,
		ctx:    ctx,
	}
}
