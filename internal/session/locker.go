// Package session guards chart generation runs with an expiring lock so that
// only one run is in flight at a time.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jun/soapnote/internal/model"
)

// DefaultTTL bounds how long a crashed run can hold the lock.
const DefaultTTL = 30 * time.Minute

// ErrLocked is returned when another owner holds an unexpired lock.
var ErrLocked = errors.New("resource is locked by another run")

// Locker manages run locks.
type Locker interface {
	// AcquireLock takes the lock on resource for owner. It succeeds when the
	// resource is free, the lock expired, or owner already holds it.
	AcquireLock(ctx context.Context, resource, owner string) (*model.RunLock, error)

	// Heartbeat extends the lock TTL if owner holds the lock.
	Heartbeat(ctx context.Context, resource, owner string) (*model.RunLock, error)

	// ReleaseLock removes the lock if owner holds it.
	ReleaseLock(ctx context.Context, resource, owner string) error

	// GetLockStatus returns the current lock, or nil when free or expired.
	GetLockStatus(ctx context.Context, resource string) (*model.RunLock, error)
}
