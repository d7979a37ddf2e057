package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crawl-scheduler/internal/config"
)

// Lease is a Redis lock held for the duration of one control loop pass so
// that scheduler replicas never run overlapping passes. The holder must call
// Acquire again well within the TTL for as long as the pass runs.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewClient builds the shared Redis client from config.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// New creates a lease identified by a random owner token.
func New(client *redis.Client, key string, ttl time.Duration) *Lease {
	if ttl == 0 {
		ttl = 2 * time.Minute
	}
	return &Lease{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Owner returns the token this instance writes into the lease key.
func (l *Lease) Owner() string { return l.owner }

// Acquire takes the lease if it is free or already ours. It returns false
// without error when another instance holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	res, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return res == 1, nil
}

// Release drops the lease only if this instance still owns it.
func (l *Lease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
