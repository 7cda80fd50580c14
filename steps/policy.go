// Package steps implements the handlers of the payment saga steps.
package steps

import "github.com/BDNK1/sagaworker/runtime"

// Step types as modelled in the PaymentSagaProcess.
const (
	CreatePaymentOrder = "create-payment-order"
	DebitFunds         = "debit-funds"
	AntifraudCheck     = "antifraud-check"
	WaitManualReview   = "wait-manual-review"
	TransferToMerchant = "transfer-to-merchant"
	RefundAmount       = "refund-amount"
	SendNotice         = "send-notice"
)

// Policy is the retry rule of one step type.
type Policy struct {
	StepType    string
	Description string
	// RetryBudget caps the retries reported on failure. Nil means the step
	// never reports a failure of its own.
	RetryBudget *int
}

// Budget returns the retry budget, or 0 for steps without one.
func (p Policy) Budget() int {
	if p.RetryBudget == nil {
		return 0
	}
	return *p.RetryBudget
}

// Policies lists the step types in saga order.
var Policies = []Policy{
	{CreatePaymentOrder, "create payment order and reserve funds", runtime.Budget(2)},
	{DebitFunds, "debit reserved funds", runtime.Budget(3)},
	{AntifraudCheck, "antifraud check", runtime.Budget(2)},
	{WaitManualReview, "wait for manual review", runtime.Budget(1)},
	{TransferToMerchant, "transfer to merchant", runtime.Budget(0)},
	{RefundAmount, "refund amount (compensation)", nil},
	{SendNotice, "send notice to customer", runtime.Budget(3)},
}

func PolicyFor(stepType string) (Policy, bool) {
	for _, p := range Policies {
		if p.StepType == stepType {
			return p, true
		}
	}
	return Policy{}, false
}

func budget(stepType string) int {
	p, _ := PolicyFor(stepType)
	return p.Budget()
}
