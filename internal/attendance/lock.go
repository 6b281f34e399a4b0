package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds the caller's
// token, so a hold that outlived its TTL cannot release a newer one.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Locker with SET NX and a TTL, so a crashed holder
// releases the pair after ttl.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock builds a Locker on client, namespacing keys under "lock:".
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, prefix: "lock:"}
}

// Lock acquires key for ttl and returns the owning token, or "" when the
// key is taken.
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	const op = "attendance.RedisLock.Lock"

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Unlock releases key if token still owns it.
func (r *RedisLock) Unlock(ctx context.Context, key, token string) error {
	const op = "attendance.RedisLock.Unlock"

	if err := unlockScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
