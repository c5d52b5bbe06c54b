package cli

import "fmt"

// Makes the process exit with Code instead of the default failure code.
//
// Returned by commands whose outcome is an exit status rather than an
// error, such as a container's default command exiting non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
