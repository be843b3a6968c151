package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist or a guarded
	// update matched no rows.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")
)
