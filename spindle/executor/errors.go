package executor

import "errors"

var (
	ErrTimedOut  = errors.New("timed out")
	ErrCancelled = errors.New("cancelled")
	ErrExitCode  = errors.New("non-zero exit code")
)
