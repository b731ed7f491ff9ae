package auth

import "errors"

var (
	// ErrSessionNotFound is returned by a SessionStore when no session has
	// the token
	ErrSessionNotFound = errors.New("session not found")

	// ErrUserNotFound is returned by a UserReader when no account matches
	ErrUserNotFound = errors.New("user not found")

	// ErrMissingToken is returned when a request carries no session token
	ErrMissingToken = errors.New("missing session token")
)
