package steps

import (
	"errors"
	"fmt"
)

var (
	// ErrStageTimeout is the cause of a StepExecutionError for a stage
	// that exceeded its timeout.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrUnparsable is the cause when model output has no usable JSON.
	ErrUnparsable = errors.New("unparsable model output")

	// ErrNoChanges is the cause when the Code stage produced no files.
	ErrNoChanges = errors.New("no file changes produced")

	// ErrCommandNotAllowed is the cause when the test command is not on
	// the allow-list.
	ErrCommandNotAllowed = errors.New("command not in allow-list")

	// ErrPathOutsideWorkspace is returned for paths escaping the workspace.
	ErrPathOutsideWorkspace = errors.New("path outside workspace")

	// ErrMissingInput is the cause when a stage runs without the result
	// of the stage it depends on.
	ErrMissingInput = errors.New("missing stage input")
)

// StepExecutionError is a recoverable stage failure.
type StepExecutionError struct {
	Stage Stage
	Cause error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

func stepError(stage Stage, format string, args ...any) error {
	return &StepExecutionError{Stage: stage, Cause: fmt.Errorf(format, args...)}
}
