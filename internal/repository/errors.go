package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStatusConflict is returned when a conditional status update finds the
	// entity in a different status than required.
	ErrStatusConflict = errors.New("status conflict")

	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)
