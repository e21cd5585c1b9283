package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates the uniqueness of a
	// key name or secret hash.
	ErrDuplicate = errors.New("duplicate key")

	// ErrActiveOwnerConflict is returned when an insert or update would leave
	// an owner with more than one active key.
	ErrActiveOwnerConflict = errors.New("owner already has an active key")
)
