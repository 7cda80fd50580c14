package steps

import (
	"fmt"
	"strconv"

	"github.com/BDNK1/sagaworker/decision"
)

type NoticeType string

const (
	NoticeSuccess NoticeType = "SUCCESS"
	NoticeFailed  NoticeType = "FAILED"
	NoticeInfo    NoticeType = "INFO"
)

// Classify picks the notice for the saga outcome. Branches are checked in
// order: a confirmed transfer or approved fraud check wins over any
// rejection, and anything else is informational.
func Classify(in NoticeInput) Notice {
	amount := strconv.FormatFloat(in.Amount, 'f', -1, 64)
	notice := Notice{UserID: in.UserID}

	switch {
	case in.TransferConfirmed || in.FraudResult == string(decision.Approved):
		notice.Type = NoticeSuccess
		notice.Message = fmt.Sprintf("Payment of %s completed successfully", amount)
	case in.FraudResult == string(decision.Rejected) || in.ManualDecision == string(decision.Rejected):
		notice.Type = NoticeFailed
		notice.Message = fmt.Sprintf("Payment of %s declined by the security service", amount)
	default:
		notice.Type = NoticeInfo
		notice.Message = fmt.Sprintf("Status of payment of %s requires clarification", amount)
	}
	return notice
}
