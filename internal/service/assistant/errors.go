package assistant

import "errors"

var (
	ErrEmptyInput         = errors.New("message content is empty")
	ErrInvalidConfig      = errors.New("invalid endpoint configuration")
	ErrSubmissionInFlight = errors.New("a message is already being processed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrTooManySessions    = errors.New("too many active sessions")
)
