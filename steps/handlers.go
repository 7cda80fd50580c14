package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BDNK1/sagaworker/decision"
	"github.com/BDNK1/sagaworker/runtime"
)

// refundMargin is the most time kept back from a refund's invocation
// deadline for completing with refundFailed.
const refundMargin = time.Second

// Config holds the step-level settings of the demo saga.
type Config struct {
	// ReviewDelay simulates the time an operator needs for a manual review.
	ReviewDelay time.Duration `yaml:"review_delay" default:"2s"`
}

// Handlers implements every step of the payment saga. It holds no mutable
// state of its own; decisions and money movements go through the injected
// dependencies.
type Handlers struct {
	gateway  Gateway
	notifier Notifier
	scorer   decision.FraudScorer
	reviewer decision.Reviewer
	config   Config
	now      func() time.Time
}

func NewHandlers(gateway Gateway, notifier Notifier, scorer decision.FraudScorer, reviewer decision.Reviewer, config Config) (*Handlers, error) {
	if gateway == nil || notifier == nil {
		return nil, errors.New("gateway and notifier cannot be nil")
	}
	if scorer == nil || reviewer == nil {
		return nil, errors.New("fraud scorer and reviewer cannot be nil")
	}
	if err := runtime.ApplyDefaults(&config); err != nil {
		return nil, err
	}
	return &Handlers{
		gateway:  gateway,
		notifier: notifier,
		scorer:   scorer,
		reviewer: reviewer,
		config:   config,
		now:      time.Now,
	}, nil
}

// Handler returns the handler of a step type.
func (h *Handlers) Handler(stepType string) (runtime.HandlerFunc, bool) {
	switch stepType {
	case CreatePaymentOrder:
		return h.CreatePaymentOrder, true
	case DebitFunds:
		return h.DebitFunds, true
	case AntifraudCheck:
		return h.AntifraudCheck, true
	case WaitManualReview:
		return h.WaitManualReview, true
	case TransferToMerchant:
		return h.TransferToMerchant, true
	case RefundAmount:
		return h.RefundAmount, true
	case SendNotice:
		return h.SendNotice, true
	}
	return nil, false
}

// failed reports a step failure with the step's retry budget.
func failed(exec *runtime.Execution, stepType, prefix string, err error) (runtime.StepResult, error) {
	exec.Logger.ErrorContext(exec, fmt.Sprintf("%s: %v", prefix, err))
	return runtime.Fail(budget(stepType), "%s: %v", prefix, err), nil
}

func (h *Handlers) CreatePaymentOrder(exec *runtime.Execution) (runtime.StepResult, error) {
	var in orderInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, CreatePaymentOrder, "order creation failed", err)
	}

	exec.Logger.InfoContext(exec, "Creating payment order and reserving funds",
		"user_id", in.UserID,
		"amount", in.Amount,
		"merchant_id", in.MerchantID)

	order, err := h.gateway.CreateOrder(exec, OrderRequest(in))
	if err != nil {
		return failed(exec, CreatePaymentOrder, "order creation failed", err)
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Payment order created: %s", order.PaymentOrderID))
	return runtime.Complete(map[string]any{
		"paymentOrderId":  order.PaymentOrderID,
		"reservedFundsId": order.ReservedFundsID,
		"orderCreated":    true,
		"timestamp":       timestamp(h.now()),
	}), nil
}

func (h *Handlers) DebitFunds(exec *runtime.Execution) (runtime.StepResult, error) {
	var in debitInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, DebitFunds, "debit failed", err)
	}

	exec.Logger.InfoContext(exec, "Debiting reserved funds",
		"amount", in.Amount,
		"reserved_funds_id", in.ReservedFundsID,
		"payment_order_id", in.PaymentOrderID)

	txID, err := h.gateway.Debit(exec, DebitRequest(in))
	if err != nil {
		return failed(exec, DebitFunds, "debit failed", err)
	}

	return runtime.Complete(map[string]any{
		"debitTransactionId": txID,
		"debitConfirmed":     true,
		"debitTimestamp":     timestamp(h.now()),
	}), nil
}

func (h *Handlers) AntifraudCheck(exec *runtime.Execution) (runtime.StepResult, error) {
	var in antifraudInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, AntifraudCheck, "antifraud check failed", err)
	}

	d, err := h.scorer.Score(exec, decision.FraudRequest(in))
	if err != nil {
		return failed(exec, AntifraudCheck, "antifraud check failed", err)
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Antifraud check result: %s", d.Result),
		"score", d.Score,
		"amount", in.Amount)

	return runtime.Complete(map[string]any{
		"fraudResult":  string(d.Result),
		"fraudCheckId": newID("FRAUD"),
		"fraudScore":   d.Score,
		"fraudDetails": d.Details,
		"amount":       in.Amount,
	}), nil
}

func (h *Handlers) WaitManualReview(exec *runtime.Execution) (runtime.StepResult, error) {
	var in reviewInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, WaitManualReview, "manual review failed", err)
	}

	exec.Logger.InfoContext(exec, "Waiting for manual review",
		"fraud_check_id", in.FraudCheckID,
		"amount", in.Amount,
		"delay", h.config.ReviewDelay)

	timer := time.NewTimer(h.config.ReviewDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-exec.Done():
		return failed(exec, WaitManualReview, "manual review failed", exec.Err())
	}

	d, err := h.reviewer.Review(exec, decision.ReviewRequest(in))
	if err != nil {
		return failed(exec, WaitManualReview, "manual review failed", err)
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Manual review decision: %s", d.Decision),
		"reviewer", d.Reviewer)

	return runtime.Complete(map[string]any{
		"manualDecision":        string(d.Decision),
		"manualReviewer":        d.Reviewer,
		"manualReviewTimestamp": timestamp(h.now()),
		"manualComments":        d.Comments,
	}), nil
}

// TransferToMerchant has a retry budget of 0: any failure sends the saga
// straight to compensation.
func (h *Handlers) TransferToMerchant(exec *runtime.Execution) (runtime.StepResult, error) {
	var in transferInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, TransferToMerchant, "transfer to merchant failed", err)
	}

	exec.Logger.InfoContext(exec, "Transferring funds to merchant",
		"amount", in.Amount,
		"merchant_id", in.MerchantID,
		"payment_order_id", in.PaymentOrderID)

	tr, err := h.gateway.Transfer(exec, TransferRequest{
		MerchantID:     in.MerchantID,
		PaymentOrderID: in.PaymentOrderID,
		Amount:         in.Amount,
	})
	if err != nil {
		return failed(exec, TransferToMerchant, "transfer to merchant failed", err)
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Transfer completed: %s", tr.TransferID),
		"transaction_id", tr.TransactionID)

	return runtime.Complete(map[string]any{
		"transferId":        tr.TransferID,
		"transactionId":     tr.TransactionID,
		"transferStatus":    "COMPLETED",
		"transferTimestamp": timestamp(h.now()),
		"transferConfirmed": true,
	}), nil
}

// RefundAmount is the compensation step and always completes so the saga
// can finish. A refund that could not be made is reported through
// refundFailed/refundError instead.
func (h *Handlers) RefundAmount(exec *runtime.Execution) (result runtime.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = h.refundFailed(exec, fmt.Errorf("refund panic: %v", r)), nil
		}
	}()

	var in refundInput
	if err := exec.Decode(&in); err != nil {
		return h.refundFailed(exec, err), nil
	}

	exec.Logger.InfoContext(exec, "Refunding amount",
		"amount", in.Amount,
		"user_id", in.UserID,
		"reserved_funds_id", in.ReservedFundsID)

	rexec, cancel := refundDeadline(exec)
	defer cancel()

	refund, err := h.gateway.Refund(rexec, RefundRequest{
		ReservedFundsID: in.ReservedFundsID,
		UserID:          in.UserID,
		Amount:          in.Amount,
	})
	if err != nil {
		return h.refundFailed(exec, err), nil
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Refund completed: %s", refund.RefundID))
	return runtime.Complete(map[string]any{
		"refundId":              refund.RefundID,
		"refundTransactionId":   refund.TransactionID,
		"refundStatus":          "COMPLETED",
		"refundTimestamp":       timestamp(h.now()),
		"compensationCompleted": true,
	}), nil
}

// refundDeadline cuts the gateway call short of the invocation deadline, so
// a slow refund still ends in refundFailed instead of a runtime timeout.
func refundDeadline(exec *runtime.Execution) (*runtime.Execution, context.CancelFunc) {
	deadline, ok := exec.Deadline()
	if !ok {
		return exec, func() {}
	}
	margin := min(refundMargin, time.Until(deadline)/5)
	ctx, cancel := context.WithDeadline(exec, deadline.Add(-margin))
	return exec.WithContext(ctx), cancel
}

func (h *Handlers) refundFailed(exec *runtime.Execution, err error) runtime.StepResult {
	exec.Logger.ErrorContext(exec, "Refund failed, completing compensation anyway", "error", err)
	return runtime.Complete(map[string]any{
		"refundFailed": true,
		"refundError":  err.Error(),
	})
}

func (h *Handlers) SendNotice(exec *runtime.Execution) (runtime.StepResult, error) {
	var in NoticeInput
	if err := exec.Decode(&in); err != nil {
		return failed(exec, SendNotice, "notification failed", err)
	}

	notice := Classify(in)
	id, err := h.notifier.Notify(exec, notice)
	if err != nil {
		return failed(exec, SendNotice, "notification failed", err)
	}

	exec.Logger.InfoContext(exec, fmt.Sprintf("Notice sent: %s", notice.Type),
		"user_id", in.UserID,
		"message", notice.Message)

	result, err := runtime.CompleteStruct(noticeOutput{
		NotificationID:        id,
		NotificationType:      notice.Type,
		NotificationMessage:   notice.Message,
		NotificationSent:      true,
		NotificationTimestamp: timestamp(h.now()),
	})
	if err != nil {
		return failed(exec, SendNotice, "notification failed", err)
	}
	return result, nil
}
