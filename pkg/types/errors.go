package types

import "errors"

// Sentinel errors shared by every layer. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrNotFound is returned when a referenced scenario, DA, track or record
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed requests: unparsable instants,
	// unsupported sampling methods, out-of-range parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a write would violate a uniqueness rule,
	// such as a second sample for the same track and timestamp.
	ErrConflict = errors.New("conflict")
)
