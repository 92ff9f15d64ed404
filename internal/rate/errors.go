package rate

import "errors"

var (
	// ErrBackendUnavailable is returned when Redis cannot be reached.
	// Callers must treat it as a fail-closed denial.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
