package filter

import (
	"errors"
	"fmt"
)

// ErrUnknownPreset is returned when a preset name was never loaded.
var ErrUnknownPreset = errors.New("unknown filter preset")

// CompilationError reports an expression that does not type check against a
// device. Reason is set when there is no underlying expr error.
type CompilationError struct {
	Expression string
	Reason     string
	Err        error
}

func (e *CompilationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device filter %q does not compile: %v", e.Expression, e.Err)
	}
	return fmt.Sprintf("device filter %q does not compile: %s", e.Expression, e.Reason)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// EvaluationError reports a compiled filter that failed at run time on one
// device, e.g. an index past the end of Series.
type EvaluationError struct {
	Expression string
	DeviceID   int
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("device filter %q failed on device %d: %v", e.Expression, e.DeviceID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
