// Package store implements durable persistence for cards, dependencies,
// transitions, and the session/turn ledger over the embedded database.
package store

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState indicates the optimistic from_status check failed:
	// another loop transitioned the card first. Nothing was mutated.
	ErrStaleState = errors.New("stale state")

	// ErrAlreadyExists indicates a uniqueness conflict on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDependencyCycle indicates an edge would make the dependency
	// graph cyclic.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrActiveSessionExists indicates a running session already targets
	// the card. One active session per target root at a time.
	ErrActiveSessionExists = errors.New("active session exists for target")
)
