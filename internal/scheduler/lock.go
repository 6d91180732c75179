package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	masterLockKey = "pulseguard:master"

	// LockTTL is the master lease. The holder refreshes every TTL/2, so a
	// dead master is replaced within one TTL.
	LockTTL = 30 * time.Second
)

// Lock is the master-election primitive: SET NX PX to acquire, PEXPIRE to
// refresh while the stored value still matches this node's id.
type Lock struct {
	rdb redis.UniversalClient
	id  string
}

func NewLock(rdb redis.UniversalClient) *Lock {
	return &Lock{rdb: rdb, id: uuid.NewString()}
}

// ID returns this node's lock id, unique per process.
func (l *Lock) ID() string {
	return l.id
}

// TryAcquire attempts to take or keep the master lock. Returns true while
// this node is master.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	val, err := l.rdb.Get(ctx, masterLockKey).Result()
	switch {
	case err == redis.Nil:
		// Absent: race for it.
		return l.rdb.SetNX(ctx, masterLockKey, l.id, LockTTL).Result()
	case err != nil:
		return false, err
	case val == l.id:
		// Still ours: refresh the lease.
		if err := l.rdb.PExpire(ctx, masterLockKey, LockTTL).Err(); err != nil {
			return false, err
		}
		return true, nil
	default:
		// Someone else holds it: standby.
		return false, nil
	}
}

// Release drops the lock if this node holds it. Best effort on shutdown so
// the next master does not wait out the TTL.
func (l *Lock) Release(ctx context.Context) {
	val, err := l.rdb.Get(ctx, masterLockKey).Result()
	if err == nil && val == l.id {
		_ = l.rdb.Del(ctx, masterLockKey).Err()
	}
}
