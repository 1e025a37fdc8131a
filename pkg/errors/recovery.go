package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a recovered panic value into a fatal RECORD_PROCESSING_ERROR
// carrying the stack trace.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}

	return ErrRecordProcessing.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
