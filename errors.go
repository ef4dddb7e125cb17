package intake

import "errors"

// Common errors for intake relay operations.
var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrNotConfigured      = errors.New("upstream API key not configured")
	ErrEmptyConversation  = errors.New("conversation has no messages")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrTooManyMessages    = errors.New("conversation exceeds message limit")
	ErrPersistenceSkipped = errors.New("persistence not configured")
)
