package runtime

import "fmt"

// FailureType classifies failure severity and retry behavior.
type FailureType string

const (
	// FailureTransient signals the orchestrator may redispatch the item.
	FailureTransient FailureType = "transient"
	// FailurePermanent signals a broken handler or result; retrying is unlikely to help.
	FailurePermanent FailureType = "permanent"
	// FailureTimeout signals the invocation was cut off by its deadline.
	FailureTimeout FailureType = "timeout"
)

// FailureCode identifies why an invocation failed.
type FailureCode string

const (
	// The handler returned a Failed result.
	CodeHandlerFailed FailureCode = "HANDLER_FAILED"
	// The handler returned an error or panicked.
	CodeHandlerError FailureCode = "HANDLER_ERROR"
	CodeHandlerPanic FailureCode = "HANDLER_PANIC"

	CodeDeadlineExceeded FailureCode = "DEADLINE_EXCEEDED"
	CodeContextCancelled FailureCode = "CONTEXT_CANCELLED"

	// The handler produced neither Completed nor Failed.
	CodeInvalidResult FailureCode = "INVALID_RESULT"
	// The handler produced an output key in the orchestrator namespace.
	CodeReservedKey FailureCode = "RESERVED_KEY"
)

// StepError describes a failed invocation before it is reported.
type StepError struct {
	Type     FailureType `json:"type"`
	Code     FailureCode `json:"code"`
	Message  string      `json:"message"`
	StepType string      `json:"stepType"`
	ItemID   string      `json:"itemId"`
	Retries  int         `json:"retries"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[%s/%s] %s (step: %s, item: %s, retries: %d)", e.Type, e.Code, e.Message, e.StepType, e.ItemID, e.Retries)
}

// ToMap converts the error to a map suitable for injection into expr-lang conditions.
func (e *StepError) ToMap() map[string]any {
	return map[string]any{
		"type":     string(e.Type),
		"code":     string(e.Code),
		"message":  e.Message,
		"stepType": e.StepType,
		"itemId":   e.ItemID,
		"retries":  e.Retries,
	}
}
