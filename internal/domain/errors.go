package domain

import "errors"

var (
	// ErrValidation marks a rejected submission; no state was changed.
	ErrValidation = errors.New("validation failed")

	ErrSessionClosed = errors.New("session closed")
	ErrNotJoined     = errors.New("session has not joined")
)
