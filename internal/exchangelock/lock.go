// Package exchangelock serializes drafting exchanges per session across
// replicas with a Redis lease.
package exchangelock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld reports that another exchange owns the session lease.
var ErrHeld = errors.New("exchange lock held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-session leases. A lease expires after ttl even when
// its holder never releases it.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Lease is one acquired lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// New builds a Locker on an existing Redis client.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("exchange lock redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("exchange lock ttl must be positive")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bluelight:exchange"
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}, nil
}

// Acquire takes the lease for sessionID or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	key := l.prefix + ":" + sessionID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire exchange lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release drops the lease if it is still owned. Safe to call more than once.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("release exchange lock: %w", err)
	}
	return nil
}
