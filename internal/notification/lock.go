package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds the owner's own
// token, so a worker can never release a lock a retry or a crash handed to
// someone else.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Locker is a per-notification claim with a TTL. Only the reconcile sweep
// takes it, so two sweeps never re-publish the same stale Pending row at
// once. The Task Worker does not take it, so it does not keep the sweep
// from re-publishing a notification that a worker is still processing.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	script *redis.Script
}

// NewLocker wires a redis client with a fixed lock TTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, script: redis.NewScript(releaseScript)}
}

// Acquire attempts to claim ownership of a notification, returning a token
// to pass to Release and true if the claim succeeded.
func (l *Locker) Acquire(ctx context.Context, notificationID uuid.UUID) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(notificationID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	return token, ok, nil
}

// Release drops the lock only if token still matches the value Acquire set,
// which keeps an expired-then-reacquired lock safe from a late release call.
func (l *Locker) Release(ctx context.Context, notificationID uuid.UUID, token string) error {
	_, err := l.script.Run(ctx, l.client, []string{lockKey(notificationID)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func lockKey(notificationID uuid.UUID) string {
	return "notification:lock:" + notificationID.String()
}
