package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrFetch is a network or timeout failure talking to a provider.
	ErrFetch = errors.New("fetch error")
	// ErrParse is a malformed file, row or page.
	ErrParse = errors.New("parse error")
	// ErrValidation is a record missing a required field.
	ErrValidation = errors.New("validation error")
	// ErrPersistence is a storage layer failure.
	ErrPersistence = errors.New("persistence error")
	// ErrConfiguration is an unsupported format, unknown source or bad setting.
	ErrConfiguration = errors.New("configuration error")
	// ErrStoreUnavailable marks persistence failures that abort a whole run.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid state transition")
)
