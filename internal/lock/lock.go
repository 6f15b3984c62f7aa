// Package lock provides a distributed lock used to guarantee that each task
// instance executes on at most one node.
package lock

import (
	"context"
	"time"
)

// Locker acquires and releases named locks. Acquire returns false without an
// error when the lock is already held by someone else. Release returns false
// when the lock was not held by the given owner, so an expired lock is never
// released out from under the node that took it over.
type Locker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) (bool, error)
}
