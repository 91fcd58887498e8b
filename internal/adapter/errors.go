package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested file does not exist or is not
	// visible to the signed-in account.
	ErrNotFound = errors.New("resource not found")

	// ErrLimitExceeded is returned by the local workspace when a demo limit is hit.
	ErrLimitExceeded = errors.New("limit exceeded")
)
