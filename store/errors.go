package store

import "errors"

// Persistence error taxonomy. Callers match with errors.Is; the HTTP
// layer maps these to status codes.
var (
	// ErrValidation marks malformed or out-of-bounds input.
	ErrValidation = errors.New("lawkb: invalid input")

	// ErrNotFound marks a lookup of an unknown or inactive record where
	// an active one is required.
	ErrNotFound = errors.New("lawkb: not found")

	// ErrConflict marks a stale-version update or a duplicate record.
	ErrConflict = errors.New("lawkb: conflict")
)
