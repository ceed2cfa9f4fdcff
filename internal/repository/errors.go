package repository

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a concurrent update invalidated the write.
	ErrConflict = errors.New("repository: conflict")
)
