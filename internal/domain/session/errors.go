package session

import "errors"

var (
	// ErrNoActiveSession indicates no global session is currently
	// active, so scoped session ids cannot be composed.
	ErrNoActiveSession = errors.New("no active global session")

	// ErrSessionNotFound indicates a session record does not exist in
	// the local store.
	ErrSessionNotFound = errors.New("session not found")
)
