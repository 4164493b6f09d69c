package storage

import "errors"

var (
	// ErrRunNotFound is returned when no run exists for an ID
	ErrRunNotFound = errors.New("run not found")
	// ErrDuplicateRun is returned when saving a run whose ID is already stored
	ErrDuplicateRun = errors.New("run already stored")
)
