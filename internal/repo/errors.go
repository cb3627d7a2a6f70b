// Package repo holds the domain repositories: project and session CRUD over
// the store plus the message reconciliation engine that keeps the local
// transcript in sync with the harness.
package repo

import "errors"

// ErrInvalidInput rejects a request before any I/O happens.
var ErrInvalidInput = errors.New("invalid input")

// ErrSessionNotFound names a session id nothing in the store tracks.
var ErrSessionNotFound = errors.New("session not found")
