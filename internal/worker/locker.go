package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTurnInProgress is returned when another turn holds the location.
var ErrTurnInProgress = errors.New("a turn is already in progress for this location")

// DefaultLockTTL bounds how long a crashed holder can block a location.
// It must outlive a full turn including generation retries.
const DefaultLockTTL = 5 * time.Minute

// Locker serializes work per location. TryLock returns ErrTurnInProgress
// when the location is already held; the returned func releases it.
type Locker interface {
	TryLock(ctx context.Context, locationID string) (unlock func(), err error)
}

func lockKey(locationID string) string {
	return fmt.Sprintf("turn-lock:%s", locationID)
}

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker holds location locks in Redis so every API and worker
// process shares them.
type RedisLocker struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	log    *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, owner string, log *slog.Logger) *RedisLocker {
	if owner == "" {
		owner = fmt.Sprintf("locker-%s", uuid.New().String()[:8])
	}
	return &RedisLocker{client: client, owner: owner, ttl: DefaultLockTTL, log: log}
}

// WithTTL overrides the lock expiry.
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	l.ttl = ttl
	return l
}

func (l *RedisLocker) TryLock(ctx context.Context, locationID string) (func(), error) {
	key := lockKey(locationID)
	token := l.owner + ":" + uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrTurnInProgress
	}

	return func() {
		// Release even if the caller's context was cancelled mid-turn.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Error("Failed to release turn lock", "error", err, "location_id", locationID)
		}
	}, nil
}

// LocalLocker is an in-process Locker for single-binary deployments
// and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, locationID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[locationID]; busy {
		return nil, ErrTurnInProgress
	}
	l.held[locationID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, locationID)
			l.mu.Unlock()
		})
	}, nil
}
