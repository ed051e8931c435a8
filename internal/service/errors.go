package service

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailed means the page held no recognizable product
	ErrExtractionFailed = errors.New("extraction failed: product anchor not found")

	// ErrRefreshInProgress means another cycle holds the product lock
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrLockLost means the product lock could not be renewed and the cycle was cancelled
	ErrLockLost = errors.New("product lock lost")
)

// StorageError wraps a persistence failure with the operation that failed
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
