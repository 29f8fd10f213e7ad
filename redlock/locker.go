// Package redlock provides a minimal Redis SETNX lock. The reservation
// sweeper uses it to ensure only one process instance sweeps at a time;
// a busy lock is not waited on, the holder is simply left to finish.
package redlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// defaultTTL bounds how long a crashed holder can keep the lock.
const defaultTTL = 30 * time.Second

var (
	// ErrLockNotAcquired is returned when the lock is held by another instance.
	ErrLockNotAcquired = errors.New("redlock: lock not acquired")
	// ErrUnlockFailed is returned when the lock expired or was taken over
	// before Unlock ran.
	ErrUnlockFailed = errors.New("redlock: failed to unlock")
)

// unlockScript deletes the key only if this instance still holds it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Locker is a lock on one resource key. It is not safe for concurrent use
// by multiple goroutines; each would-be holder constructs its own.
type Locker struct {
	client redis.Cmdable
	key    string
	value  string // unique per acquisition, empty while unlocked
	ttl    time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry. Defaults to 30 seconds.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewLocker creates a lock over the given key.
func NewLocker(client redis.Cmdable, key string, options ...Option) *Locker {
	l := &Locker{
		client: client,
		key:    key,
		ttl:    defaultTTL,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// TryLock attempts to acquire the lock without waiting. Returns
// ErrLockNotAcquired when another instance holds it.
func (l *Locker) TryLock(ctx context.Context) error {
	value := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("key", l.key).Msg("setnx failed")
		return err
	}
	if !ok {
		return ErrLockNotAcquired
	}
	l.value = value
	log.Debug().Str("key", l.key).Dur("ttl", l.ttl).Msg("lock acquired")
	return nil
}

// Unlock releases the lock if this instance still holds it.
func (l *Locker) Unlock(ctx context.Context) error {
	if l.value == "" {
		return ErrUnlockFailed
	}
	held := l.value
	l.value = ""

	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, held).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Key already gone, most likely expired. Treat as released.
			log.Warn().Str("key", l.key).Msg("lock key missing during unlock")
			return nil
		}
		log.Error().Err(err).Str("key", l.key).Msg("unlock script failed")
		return err
	}

	if deleted, ok := res.(int64); ok && deleted == 1 {
		log.Debug().Str("key", l.key).Msg("lock released")
		return nil
	}
	// Value did not match: the lock expired and was re-acquired elsewhere.
	log.Warn().Str("key", l.key).Msg("unlock skipped, lock held by another instance")
	return ErrUnlockFailed
}

// Key returns the resource key this locker guards.
func (l *Locker) Key() string {
	return l.key
}
