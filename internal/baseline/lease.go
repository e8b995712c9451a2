package baseline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrChannelBusy means another recalculation already holds the channel lease.
var ErrChannelBusy = errors.New("baseline: recalculation already in progress")

// Locker grants at most one in-flight recalculation per channel.
type Locker interface {
	Acquire(ctx context.Context, channelID int64) (release func(), err error)
}

// RedisLocker leases channels via SET NX with a TTL, so a crashed worker
// frees its channel once the lease expires.
type RedisLocker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewRedisLocker(client goredis.UniversalClient, ttl time.Duration, logger logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func leaseKey(channelID int64) string {
	return fmt.Sprintf("baseline:lease:%d", channelID)
}

func (l *RedisLocker) Acquire(ctx context.Context, channelID int64) (func(), error) {
	key := leaseKey(channelID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire baseline lease: %w", err)
	}
	if !ok {
		return nil, ErrChannelBusy
	}
	release := func() {
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			l.logger.WithError(err).WithField("channel_id", channelID).
				Warn("Failed to release baseline lease, waiting for TTL expiry")
		}
	}
	return release, nil
}

// MemoryLocker is the single-instance fallback when Redis is not configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, channelID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[channelID]; busy {
		return nil, ErrChannelBusy
	}
	l.held[channelID] = struct{}{}
	release := func() {
		l.mu.Lock()
		delete(l.held, channelID)
		l.mu.Unlock()
	}
	return release, nil
}
