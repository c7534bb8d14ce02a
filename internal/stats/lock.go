package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKey = "keypool:stats:lock"

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// passLock is a Redis lease held for the duration of one snapshot pass
type passLock struct {
	client *redis.Client
	ttl    time.Duration
}

func newPassLock(client *redis.Client, ttl time.Duration) *passLock {
	return &passLock{client: client, ttl: ttl}
}

func (l *passLock) acquire(ctx context.Context, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire stats lock: %w", err)
	}
	return ok, nil
}

func (l *passLock) release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
		return fmt.Errorf("failed to release stats lock: %w", err)
	}
	return nil
}
