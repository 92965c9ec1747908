package cli

import (
	"context"
	"errors"

	"github.com/alanmeadows/rabbitloop/internal/conflict"
	"github.com/alanmeadows/rabbitloop/internal/ownership"
	"github.com/alanmeadows/rabbitloop/internal/provider"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFound      = 1
	ExitUnexpected = 2
)

// ExitError carries a process exit code. Err may be nil when the command
// already reported the condition on stdout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// found signals a found-condition (exit 1) that was already printed.
func found() error { return &ExitError{Code: ExitFound} }

// ExitCode maps a command error onto a process exit code. Recoverable
// failures exit 1; everything unexpected, including a missing PR, exits 2.
func ExitCode(err error) int {
	var ee *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ee):
		return ee.Code
	case errors.Is(err, provider.ErrPRNotFound):
		return ExitUnexpected
	case errors.Is(err, provider.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ownership.ErrNotOwned),
		errors.Is(err, conflict.ErrRolledBack):
		return ExitFound
	default:
		return ExitUnexpected
	}
}
