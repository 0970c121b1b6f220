// Package redis provides a Redis-backed lock that keeps two workers from
// loading the same window at once.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "qclcd-etl:lock:"

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock that another worker has since taken is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker takes named locks with SET NX PX.
type Locker struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocker connects to addr and verifies the connection.
func NewLocker(ctx context.Context, addr, password string, ttl time.Duration, logger *slog.Logger) (*Locker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Locker{client: client, ttl: ttl, logger: logger}, nil
}

// TryLock attempts to take the lock called name without waiting. When ok is
// true the caller must call unlock once done; the lock also expires after
// the configured TTL.
func (l *Locker) TryLock(ctx context.Context, name string) (unlock func(context.Context) error, ok bool, err error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock = func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", "lock", name)
		}
		return nil
	}
	return unlock, true, nil
}

// Ping checks connectivity, for readiness probes.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (l *Locker) Close() error {
	return l.client.Close()
}
