// Package runlock keeps two scans from working the same root folder at once.
// A lease is held for a TTL and extended by heartbeats while the run lasts.
package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/jun/invoicescout/internal/model"
)

// DefaultTTL is how long a lease survives without a heartbeat.
const DefaultTTL = 5 * time.Minute

var (
	// ErrHeld is returned when another owner holds an unexpired lease.
	ErrHeld = errors.New("scan already in progress")
	// ErrNotOwner is returned when heartbeating or releasing a lease owned by someone else.
	ErrNotOwner = errors.New("lease not owned by caller")
)

// Locker defines run lease management.
type Locker interface {
	// Acquire takes the lease on key for owner. It succeeds when no lease
	// exists, the existing one has expired, or owner already holds it.
	Acquire(ctx context.Context, key, owner string) (model.RunLease, error)

	// Heartbeat extends the lease TTL if owner holds it.
	Heartbeat(ctx context.Context, key, owner string) (model.RunLease, error)

	// Release removes the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error

	// Status returns the live lease on key, or false if there is none.
	Status(ctx context.Context, key string) (model.RunLease, bool, error)
}

// ScanKey is the lease key for a scan of root.
func ScanKey(root string) string {
	return "scan#" + root
}

func expiry(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).Unix()
}
