package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ViewCache holds JSON-encoded read views. Views are dropped wholesale by
// InvalidateAll after any mutation, so a cached view is never older than the
// last committed write plus the time it takes the writer to invalidate.
//
// Every view lives in a generation. InvalidateAll starts a new one, and Set
// only stores into the generation its Get observed, so a view computed
// before an invalidation can never be written back after it.
type ViewCache interface {
	// Get decodes the view stored under key into dst. It reports false on a
	// miss, and the generation the lookup ran in either way.
	Get(ctx context.Context, key string, dst any) (gen int64, hit bool, err error)
	Set(ctx context.Context, gen int64, key string, value any, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks across replicas.
type Locker interface {
	// TryLock returns ErrLockHeld when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

var ErrLockHeld = errors.New("lock held by another owner")

// Keys of the cached views.
const (
	KeyLowStock       = "inventory:view:low-stock"
	keyExpiringPrefix = "inventory:view:expiring:"
	generationKey     = "inventory:view:gen"
)

// ExpiringKey names the expiring-batches view for a horizon in days.
func ExpiringKey(days int) string {
	return keyExpiringPrefix + strconv.Itoa(days)
}
