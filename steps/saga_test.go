package steps

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/sagaworker/decision"
	"github.com/BDNK1/sagaworker/orchestrator/memory"
	"github.com/BDNK1/sagaworker/runtime"
)

func startWorkers(t *testing.T, h *Handlers, overrides map[string]runtime.WorkerConfig) (*memory.Orchestrator, *runtime.Runtime) {
	t.Helper()

	o := memory.New(discardLogger())
	rt, err := runtime.New(o, discardLogger())
	require.NoError(t, err)

	configs := make(map[string]runtime.WorkerConfig, len(Policies))
	for _, p := range Policies {
		config := overrides[p.StepType]
		if config.PollInterval == 0 {
			config.PollInterval = 5 * time.Millisecond
		}
		configs[p.StepType] = config
	}

	require.NoError(t, Register(rt, h, configs))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return o, rt
}

// saga walks the PaymentSagaProcess the way the workflow engine would,
// merging each step's output into the variable set of the next.
type saga struct {
	t    *testing.T
	o    *memory.Orchestrator
	vars map[string]any
	path []string
}

func (s *saga) step(stepType string) memory.Report {
	s.t.Helper()

	id := s.o.Submit(stepType, s.vars, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := s.o.Await(ctx, id)
	require.NoError(s.t, err)

	s.path = append(s.path, stepType)
	if r.Completed {
		maps.Copy(s.vars, r.Variables)
	}
	return r
}

func runSaga(t *testing.T, o *memory.Orchestrator, input map[string]any) *saga {
	t.Helper()

	s := &saga{t: t, o: o, vars: maps.Clone(input)}
	s.step(CreatePaymentOrder)
	s.step(DebitFunds)
	s.step(AntifraudCheck)

	verdict := s.vars["fraudResult"]
	if verdict == string(decision.ManualReview) {
		s.step(WaitManualReview)
		verdict = s.vars["manualDecision"]
	}

	if verdict == string(decision.Approved) {
		if r := s.step(TransferToMerchant); !r.Completed {
			s.step(RefundAmount)
		}
	} else {
		s.step(RefundAmount)
	}

	s.step(SendNotice)
	return s
}

func TestSaga_DecisionScenarios(t *testing.T) {
	h, seq := newTestHandlers(t, newFakeGateway())
	o, _ := startWorkers(t, h, nil)

	input := map[string]any{"amount": 500, "userId": "u1", "merchantId": "m1"}

	// 1st antifraud check approves
	s := runSaga(t, o, input)
	assert.Equal(t, "APPROVED", s.vars["fraudResult"])
	assert.Equal(t, true, s.vars["transferConfirmed"])
	assert.Equal(t, "SUCCESS", s.vars["notificationType"])
	assert.Contains(t, s.vars["notificationMessage"], "500")
	assert.Equal(t, []string{CreatePaymentOrder, DebitFunds, AntifraudCheck, TransferToMerchant, SendNotice}, s.path)

	// 2nd check rejects and the debit is compensated
	s = runSaga(t, o, input)
	assert.Equal(t, "REJECTED", s.vars["fraudResult"])
	assert.Equal(t, 95, s.vars["fraudScore"])
	assert.Equal(t, true, s.vars["compensationCompleted"])
	assert.Equal(t, "FAILED", s.vars["notificationType"])
	assert.Equal(t, []string{CreatePaymentOrder, DebitFunds, AntifraudCheck, RefundAmount, SendNotice}, s.path)

	// 3rd check escalates; the counter is odd so the operator rejects
	s = runSaga(t, o, input)
	assert.Equal(t, "MANUAL_REVIEW", s.vars["fraudResult"])
	assert.Equal(t, "REJECTED", s.vars["manualDecision"])
	assert.Equal(t, "FAILED", s.vars["notificationType"])

	// 4th check escalates; the counter is even so the operator approves
	s = runSaga(t, o, input)
	assert.Equal(t, "MANUAL_REVIEW", s.vars["fraudResult"])
	assert.Equal(t, "APPROVED", s.vars["manualDecision"])
	assert.Equal(t, true, s.vars["transferConfirmed"])
	assert.Equal(t, "SUCCESS", s.vars["notificationType"])
	assert.Equal(t, []string{CreatePaymentOrder, DebitFunds, AntifraudCheck, WaitManualReview, TransferToMerchant, SendNotice}, s.path)

	assert.Equal(t, 4, seq.Count())
}

func TestSaga_TransferFailureCompensatesWithoutRetry(t *testing.T) {
	gw := newFakeGateway()
	h, _ := newTestHandlers(t, gw)
	o, _ := startWorkers(t, h, map[string]runtime.WorkerConfig{
		// a configured budget cannot loosen the transfer policy
		TransferToMerchant: {RetryBudget: runtime.Budget(5)},
	})

	s := &saga{t: t, o: o, vars: map[string]any{"amount": 300, "userId": "u2"}}
	s.step(CreatePaymentOrder)
	s.step(DebitFunds)
	s.step(AntifraudCheck)

	gw.fail(errors.New("merchant account frozen"))
	r := s.step(TransferToMerchant)
	gw.fail(nil)

	assert.False(t, r.Completed)
	assert.Equal(t, 0, r.Retries)
	assert.Equal(t, "transfer to merchant failed: merchant account frozen", r.Message)

	transfers := 0
	for _, report := range o.Reports() {
		if report.StepType == TransferToMerchant {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)

	s.step(RefundAmount)
	assert.Equal(t, true, s.vars["compensationCompleted"])
}

func TestSaga_RetriesUntilBudgetExhausted(t *testing.T) {
	gw := newFakeGateway()
	h, _ := newTestHandlers(t, gw)
	o, _ := startWorkers(t, h, nil)

	gw.fail(errors.New("gateway unavailable"))
	id := o.Submit(DebitFunds, map[string]any{"amount": 10}, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := o.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, final.Retries)

	var retries []int
	for _, r := range o.Reports() {
		if r.ItemID == id {
			retries = append(retries, r.Retries)
		}
	}
	// retries never increase across repeated failures
	assert.Equal(t, []int{2, 1, 0}, retries)
}

func TestSaga_ManualReviewTimeout(t *testing.T) {
	seq := decision.NewSequencer()
	gw := newFakeGateway()
	h, err := NewHandlers(gw, gw, seq, seq, Config{ReviewDelay: time.Hour})
	require.NoError(t, err)

	o, rt := startWorkers(t, h, map[string]runtime.WorkerConfig{
		WaitManualReview: {InvocationTimeout: 50 * time.Millisecond},
	})

	id := o.Submit(WaitManualReview, map[string]any{"fraudCheckId": "FRAUD_1"}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := o.Await(ctx, id)
	require.NoError(t, err)

	assert.False(t, r.Completed)
	assert.Equal(t, 0, r.Retries)
	assert.Equal(t, "handler timed out after 50ms", r.Message)

	// the handler's own late result is never reported
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, o.Reports(), 1)

	stats, ok := rt.WorkerStats(WaitManualReview)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TimedOut)
}

func TestSaga_SlowRefundStillCompletes(t *testing.T) {
	gw := newFakeGateway()
	gw.blockRefunds = true
	h, _ := newTestHandlers(t, gw)
	o, _ := startWorkers(t, h, map[string]runtime.WorkerConfig{
		RefundAmount: {InvocationTimeout: 100 * time.Millisecond},
	})

	id := o.Submit(RefundAmount, map[string]any{"amount": 300, "userId": "u3"}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := o.Await(ctx, id)
	require.NoError(t, err)

	// compensation never ends in a failure, even when the refund hangs
	assert.True(t, r.Completed)
	assert.Equal(t, true, r.Variables["refundFailed"])
	assert.Equal(t, "context deadline exceeded", r.Variables["refundError"])
}

func TestRegister_AllStepTypes(t *testing.T) {
	h, _ := newTestHandlers(t, newFakeGateway())
	rt, err := runtime.New(memory.New(discardLogger()), discardLogger())
	require.NoError(t, err)

	require.NoError(t, Register(rt, h, nil))

	expected := make([]string, 0, len(Policies))
	for _, p := range Policies {
		expected = append(expected, p.StepType)
	}
	assert.Equal(t, expected, rt.StepTypes())

	err = Register(rt, h, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
