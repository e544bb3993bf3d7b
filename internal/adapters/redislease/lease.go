package redislease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fr0stylo/docmirror/internal/app/ports"
)

const keyPrefix = "docmirror:lease:"

// Only the current holder may release.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements leases with SET NX PX.
type Locker struct {
	client redis.UniversalClient
}

// New connects using a redis:// URL.
func New(redisURL string) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts)), nil
}

func NewWithClient(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func (l *Locker) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+name, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if ok {
		return true, nil
	}
	current, err := l.client.Get(ctx, keyPrefix+name).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect lease %s: %w", name, err)
	}
	if current != holder {
		return false, nil
	}
	if err := l.client.PExpire(ctx, keyPrefix+name, ttl).Err(); err != nil {
		return false, fmt.Errorf("extend lease %s: %w", name, err)
	}
	return true, nil
}

func (l *Locker) Release(ctx context.Context, name, holder string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}

var _ ports.Locker = (*Locker)(nil)
