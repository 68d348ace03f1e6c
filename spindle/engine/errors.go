package engine

import "errors"

var (
	ErrStepFailed   = errors.New("step failed")
	ErrJobCancelled = errors.New("job cancelled")
	ErrSecrets      = errors.New("resolving secrets")
)
