package runtime

// Handler executes one step type.
//
// A returned error is treated like a panic: the runtime reports Failed with a
// decremented retry count and the error text. Handlers that want to control
// the retry count return a Failed result instead.
type Handler interface {
	Handle(exec *Execution) (StepResult, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(exec *Execution) (StepResult, error)

func (f HandlerFunc) Handle(exec *Execution) (StepResult, error) {
	return f(exec)
}
