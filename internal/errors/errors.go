// Package errors defines the application-level error taxonomy shared by the
// storage layer, the relay, and the operational API. Callers match these
// with errors.Is; everything else wraps them with context.
package errors

import "errors"

var (
	// ErrAuthFailed covers unknown user, wrong password and inactive
	// account alike. The wire response never distinguishes them.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSessionNotFound indicates a session id that does not resolve to
	// an active session (never created, already ended, or reaped).
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict indicates a second host connection for a session
	// that already has a live host bound.
	ErrSessionConflict = errors.New("session already has a host")

	// ErrDuplicateKey indicates a uniqueness violation on insert
	// (e.g. provisioning a username that already exists).
	ErrDuplicateKey = errors.New("duplicate key")
)
