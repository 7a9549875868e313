package types

import "errors"

// Error taxonomy shared by every component. Callers wrap these with context
// and match them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrPermission    = errors.New("permission denied")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrOverflow      = errors.New("context overflow")
	ErrConcurrency   = errors.New("concurrent modification")
)
