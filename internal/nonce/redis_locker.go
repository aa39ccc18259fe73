package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xueqianLu/ethwallet/internal/logger"
)

const (
	lockKeyPrefix     = "ethwallet:nonce-lock:"
	defaultLockTTL    = 2 * time.Minute
	defaultRetryDelay = 50 * time.Millisecond
	releaseTimeout    = 5 * time.Second
)

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL expired cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same
// Redis. The TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	log        *zap.Logger
}

// NewRedisLocker wraps client. A zero ttl selects two minutes.
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retryDelay: defaultRetryDelay, log: logger.OrNop(log)}
}

// ConnectRedis opens a client and checks it with PING.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (l *RedisLocker) Lock(ctx context.Context, addr common.Address) (func(), error) {
	key := lockKeyPrefix + addr.Hex()
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire nonce lock for %s: %w", addr.Hex(), err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.log.Debug("Acquired nonce lock", zap.Stringer("address", addr))
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token, addr) })
	}, nil
}

func (l *RedisLocker) release(key, token string, addr common.Address) {
	// Release must run even when the caller's ctx is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.log.Warn("Failed to release nonce lock", zap.Stringer("address", addr), zap.Error(err))
	}
}
