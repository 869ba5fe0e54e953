package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownUser is returned for unregistered usernames when
	// registration is required.
	ErrUnknownUser = errors.New("unknown user")
)
