package interfaces

import "errors"

// Common interface-level errors used across components.
var (
	ErrNotFound    = errors.New("not found")
	ErrLockNotHeld = errors.New("lock not held")
)
