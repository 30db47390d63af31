// Package lock implements the named, auto-expiring mutual exclusion
// primitive guarding a room's submit critical section. The lease must
// outlive the worst-case critical section (a few store round-trips);
// if it expires while the holder is still mutating, a second holder
// can get in and rotations can be lost or duplicated.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inaworld/inaworld-backend/internal/apperror"
)

// releases only when the key still carries the caller's token, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type TurnLock struct {
	client *redis.Client
}

func New(client *redis.Client) *TurnLock {
	return &TurnLock{
		client: client,
	}
}

// Key - the lock name for a room. Scoped per room so unrelated rooms
// never contend.
func Key(roomID string) string {
	return "turn-lock:" + roomID
}

// Acquire - takes the lock or fails immediately. ErrLockBusy means
// another holder is active; it is not retryable within the same
// attempt, the caller must re-validate turn eligibility afterward.
func (that *TurnLock) Acquire(ctx context.Context, key string, lease time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := that.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	if !ok {
		return "", apperror.ErrLockBusy
	}

	return token, nil
}

// Release - drops the lock if the token still holds it. Releasing an
// expired or foreign lock is a no-op.
func (that *TurnLock) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, that.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	return nil
}
