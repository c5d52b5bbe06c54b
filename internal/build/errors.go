package build

import (
	"errors"
	"fmt"
)

var (
	ErrBuild        = errors.New("build failed")
	ErrOptions      = errors.New("invalid build options")
	ErrResolution   = errors.New("base image resolution failed")
	ErrIngestion    = errors.New("ingestion failed")
	ErrInstallation = errors.New("command failed")
	ErrFinalize     = errors.New("image finalization failed")
	ErrPathNotFound = errors.New("path not found")
	ErrOutsideCtx   = errors.New("path outside the build context")
)

// Failure of one step of a build.
//
// Steps are numbered from 1, with the base image selection (FROM) as step 1,
// so that a diagnostic reads like "step 4/5 (RUN pip install ...)".
type StepError struct {
	Step        int    // 1-based position of the failing step.
	Total       int    // Number of steps in the build.
	Line        int    // Line of the instruction in the recipe, 0 when unknown.
	Instruction string // Source text of the failing instruction.
	Err         error  // Cause, wrapping one of the class sentinels.
}

func (e *StepError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("step %d/%d (line %d: %s): %v", e.Step, e.Total, e.Line, e.Instruction, e.Err)
	}
	return fmt.Sprintf("step %d/%d (%s): %v", e.Step, e.Total, e.Instruction, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Wraps err under the given sentinel so that both match [errors.Is].
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
