package dispatcher

import (
	"errors"
	"fmt"

	"github.com/oriys/quasar/internal/envelope"
)

// TargetExecutionError wraps a failure raised by the invoked function's own
// validate or process hook, distinct from a pipeline validation failure.
type TargetExecutionError struct {
	Hook string
	Err  error
}

func (e *TargetExecutionError) Error() string {
	return fmt.Sprintf("dispatcher: %s hook failed: %v", e.Hook, e.Err)
}

func (e *TargetExecutionError) Unwrap() error { return e.Err }

// ErrorResult is the structured form a pipeline failure is reported in by
// the default strategy.
type ErrorResult struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// ErrorStrategy decides how a pipeline failure reaches the caller. The
// default formats it into an ErrorResult; Reraise propagates it as an error.
type ErrorStrategy func(err error) (any, error)

// FormatError converts any pipeline failure into a structured result.
func FormatError(err error) (any, error) {
	return &ErrorResult{ErrorType: errorType(err), ErrorMessage: errorMessage(err)}, nil
}

// Reraise propagates the pipeline failure unchanged.
func Reraise(err error) (any, error) {
	return nil, err
}

func errorType(err error) string {
	var validation *envelope.ValidationError
	if errors.As(err, &validation) {
		return "ValidationError"
	}
	var target *TargetExecutionError
	if errors.As(err, &target) {
		return "TargetExecutionError"
	}
	return "Error"
}

func errorMessage(err error) string {
	var target *TargetExecutionError
	if errors.As(err, &target) {
		return target.Err.Error()
	}
	return err.Error()
}
