package lawkb

import (
	"errors"

	"github.com/junyiz/lawkb/store"
)

var (
	// ErrValidation, ErrNotFound and ErrConflict alias the store's
	// taxonomy so callers can match against either package.
	ErrValidation = store.ErrValidation
	ErrNotFound   = store.ErrNotFound
	ErrConflict   = store.ErrConflict

	// ErrTimeout is returned when a consultation exceeds its deadline.
	ErrTimeout = errors.New("lawkb: consultation deadline exceeded")
)
