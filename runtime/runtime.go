package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Runtime owns one worker per registered step type and the shared
// orchestrator handle.
type Runtime struct {
	client Orchestrator
	l      *slog.Logger
	inst   *instruments

	mu              sync.Mutex
	state           state
	workers         map[string]*worker
	order           []string
	stopPolling     context.CancelFunc
	stopInvocations context.CancelFunc
	pollers         sync.WaitGroup
}

func New(client Orchestrator, l *slog.Logger) (*Runtime, error) {
	if client == nil {
		return nil, errors.New("orchestrator client cannot be nil")
	}
	if l == nil {
		l = slog.Default()
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}

	return &Runtime{
		client:  client,
		l:       l,
		inst:    inst,
		workers: make(map[string]*worker),
	}, nil
}

// RegisterWorker registers the handler for a step type. Zero config fields
// get their defaults; registration fails fast on an empty step type, a nil
// handler, a duplicate registration or an invalid config.
func (r *Runtime) RegisterWorker(stepType string, handler Handler, config WorkerConfig) error {
	if strings.TrimSpace(stepType) == "" {
		return errors.New("step type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for step type %s cannot be nil", stepType)
	}
	if fn, ok := handler.(HandlerFunc); ok && fn == nil {
		return fmt.Errorf("handler for step type %s cannot be nil", stepType)
	}

	if err := InitializeConfig(&config, nil); err != nil {
		return fmt.Errorf("invalid worker config for %s: %w", stepType, err)
	}

	w := &worker{
		stepType: stepType,
		name:     "worker-" + stepType,
		handler:  handler,
		config:   config,
		client:   r.client,
		l:        r.l,
		inst:     r.inst,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentJobs)),
	}
	if config.SkipRetryWhen != "" {
		program, err := compileCondition(config.SkipRetryWhen)
		if err != nil {
			return fmt.Errorf("invalid worker config for %s: %w", stepType, err)
		}
		w.skip = program
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateIdle {
		return fmt.Errorf("cannot register %s: runtime already started", stepType)
	}
	if _, exists := r.workers[stepType]; exists {
		return fmt.Errorf("step type %s is already registered", stepType)
	}

	r.workers[stepType] = w
	r.order = append(r.order, stepType)

	r.l.Info(fmt.Sprintf("Handler registered: %s", stepType),
		"worker", w.name,
		"max_jobs", config.MaxConcurrentJobs,
		"timeout", config.InvocationTimeout)
	return nil
}

// Start initializes the orchestrator handle and starts one poller per step
// type. Pollers stop when ctx is cancelled or Shutdown is called; in-flight
// invocations are only stopped by Shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateIdle {
		return errors.New("runtime already started")
	}
	if len(r.workers) == 0 {
		return errors.New("no workers registered")
	}

	if init, ok := r.client.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize orchestrator client: %w", err)
		}
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	invokeCtx, stopInvocations := context.WithCancel(context.WithoutCancel(ctx))
	r.stopPolling = stopPolling
	r.stopInvocations = stopInvocations
	r.state = stateRunning

	for _, stepType := range r.order {
		w := r.workers[stepType]
		r.pollers.Add(1)
		go func() {
			defer r.pollers.Done()
			w.run(pollCtx, invokeCtx)
		}()
	}

	r.l.InfoContext(ctx, fmt.Sprintf("Runtime started with %d workers", len(r.order)))
	return nil
}

// Shutdown stops claiming, waits for in-flight invocations until ctx is
// done, then cancels whatever is left and releases the orchestrator handle.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateStopped {
		r.mu.Unlock()
		return nil
	}
	wasRunning := r.state == stateRunning
	r.state = stateStopped
	r.mu.Unlock()

	if wasRunning {
		r.stopPolling()
		r.pollers.Wait()

		done := make(chan struct{})
		go func() {
			for _, w := range r.workers {
				w.wg.Wait()
			}
			close(done)
		}()

		select {
		case <-done:
			r.l.InfoContext(ctx, "All in-flight invocations finished")
		case <-ctx.Done():
			r.l.WarnContext(context.WithoutCancel(ctx), "Shutdown grace period expired, abandoning in-flight invocations")
		}
		r.stopInvocations()
	}

	if s, ok := r.client.(Shutdowner); ok {
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to shut down orchestrator client: %w", err)
		}
	}

	r.l.Info("Runtime stopped")
	return nil
}

// StepTypes returns the registered step types in registration order.
func (r *Runtime) StepTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Stats returns a snapshot per worker in registration order.
func (r *Runtime) Stats() []WorkerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]WorkerStats, 0, len(r.order))
	for _, stepType := range r.order {
		stats = append(stats, r.workers[stepType].snapshot())
	}
	return stats
}

// WorkerStats returns the snapshot of one worker.
func (r *Runtime) WorkerStats(stepType string) (WorkerStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[stepType]
	if !ok {
		return WorkerStats{}, false
	}
	return w.snapshot(), true
}
