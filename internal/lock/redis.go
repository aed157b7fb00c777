package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker holds locks shared by every replica using the same redis.
// The TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	client       *redis.Client
	script       *redis.Script
	ttl          time.Duration
	pollInterval time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client:       client,
		script:       redis.NewScript(lockReleaseScript),
		ttl:          ttl,
		pollInterval: defaultPollInterval,
	}
}

func (l *RedisLocker) Backend() string { return "redis" }

func (l *RedisLocker) Lock(ctx context.Context, key string) (Release, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if err := wait(ctx, l.pollInterval); err != nil {
			return nil, err
		}
	}

	return func(releaseCtx context.Context) error {
		return l.script.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}
