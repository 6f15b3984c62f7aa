package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"cronflow/internal/task"
)

const keyPrefix = "cronflow:lock:"

// releaseScript deletes the key only when it still holds the caller's owner
// token, so a lock that expired and was re-acquired elsewhere survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on top of a single Redis instance using
// SET NX EX and a compare-and-delete script.
type RedisLocker struct {
	client redis.Cmdable
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+name, owner, ttl).Result()
	if err != nil {
		return false, task.Infrastructure("acquire lock "+name, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, name, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, owner).Int()
	if err != nil {
		return false, task.Infrastructure("release lock "+name, err)
	}
	return n == 1, nil
}
