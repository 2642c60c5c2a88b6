package database

import "errors"

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a write is based on a stale read
	ErrVersionConflict = errors.New("registry was modified concurrently")
)
