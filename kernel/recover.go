package kernel

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError is the error produced when a panic is recovered
type PanicError struct {
	Name  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// Recover must be deferred directly. It logs a recovered panic with its stack.
// If logger is nil the panic goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(newPanicError(name, r), logger)
	}
}

// RecoverError must be deferred directly. It logs a recovered panic and stores
// it in errp as a *PanicError.
func RecoverError(name string, logger *zap.SugaredLogger, errp *error) {
	if r := recover(); r != nil {
		perr := newPanicError(name, r)
		logPanic(perr, logger)
		if errp != nil {
			*errp = perr
		}
	}
}

func newPanicError(name string, r interface{}) *PanicError {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return &PanicError{Name: name, Value: r, Stack: string(buf[:n])}
}

func logPanic(perr *PanicError, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Panic recovered",
			"name", perr.Name,
			"panic", perr.Value,
			"stack", perr.Stack)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in %s (no logger): %v\n%s\n", perr.Name, perr.Value, perr.Stack)
}
