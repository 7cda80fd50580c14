package decision

import (
	"context"
	"fmt"
	"sync"
)

var (
	_ FraudScorer = (*Sequencer)(nil)
	_ Reviewer    = (*Sequencer)(nil)
)

// Sequencer is a demo decision source that walks every saga path in turn.
//
// Each Score call advances a process-wide counter:
//
//	1st check   APPROVED       (score 10)
//	2nd check   REJECTED       (score 95)
//	3rd onward  MANUAL_REVIEW  (score 65)
//
// Review reads the same counter without advancing it: an even count
// approves, an odd count rejects, and the reviewer is operator_{count%3+1}.
type Sequencer struct {
	mu    sync.Mutex
	count int
}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

func (s *Sequencer) Score(ctx context.Context, req FraudRequest) (FraudDecision, error) {
	if err := ctx.Err(); err != nil {
		return FraudDecision{}, err
	}

	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()

	switch n {
	case 1:
		return FraudDecision{Result: Approved, Score: 10, Details: "review required"}, nil
	case 2:
		return FraudDecision{Result: Rejected, Score: 95, Details: "suspicious transaction"}, nil
	default:
		return FraudDecision{Result: ManualReview, Score: 65, Details: "review required"}, nil
	}
}

func (s *Sequencer) Review(ctx context.Context, req ReviewRequest) (ReviewDecision, error) {
	if err := ctx.Err(); err != nil {
		return ReviewDecision{}, err
	}

	n := s.Count()
	reviewer := fmt.Sprintf("operator_%d", n%3+1)

	if n%2 == 0 {
		return ReviewDecision{
			Decision: Approved,
			Reviewer: reviewer,
			Comments: "transaction approved by operator",
		}, nil
	}
	return ReviewDecision{
		Decision: Rejected,
		Reviewer: reviewer,
		Comments: "rejected on suspicion of fraud",
	}, nil
}

// Count returns the number of antifraud checks scored so far.
func (s *Sequencer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Plan describes the sequence for startup banners.
func Plan() []string {
	return []string{
		"1st antifraud check: APPROVED",
		"2nd antifraud check: REJECTED",
		"3rd check onward: MANUAL_REVIEW",
		"manual review: alternates APPROVED/REJECTED",
	}
}
