// Package decision provides the fraud and manual-review verdicts consumed by
// the antifraud-check and wait-manual-review steps.
package decision

import "context"

// FraudResult is the verdict of an antifraud check.
type FraudResult string

const (
	Approved     FraudResult = "APPROVED"
	Rejected     FraudResult = "REJECTED"
	ManualReview FraudResult = "MANUAL_REVIEW"
)

// FraudRequest describes the payment being checked.
type FraudRequest struct {
	PaymentOrderID string
	UserID         string
	Amount         float64
}

type FraudDecision struct {
	Result  FraudResult
	Score   int
	Details string
}

// ReviewRequest describes a payment escalated to manual review.
type ReviewRequest struct {
	FraudCheckID string
	Amount       float64
}

type ReviewDecision struct {
	// Decision is Approved or Rejected.
	Decision FraudResult
	Reviewer string
	Comments string
}

// FraudScorer scores a payment.
type FraudScorer interface {
	Score(ctx context.Context, req FraudRequest) (FraudDecision, error)
}

// Reviewer settles a payment that needs manual review.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (ReviewDecision, error)
}
