package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("resource lock not acquired")
)

// Locker serializes validate+commit sequences on every calendar a booking
// touches. Keys are acquired in sorted order so two bookings sharing
// several calendars cannot deadlock each other.
type Locker interface {
	WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

func ProviderKey(id uuid.UUID) string { return "lock:provider:" + id.String() }
func ResourceKey(id uuid.UUID) string { return "lock:resource:" + id.String() }
func PatientKey(id uuid.UUID) string  { return "lock:patient:" + id.String() }

// LockOptions bounds how hard a locker tries before giving up.
type LockOptions struct {
	TTL        time.Duration
	Attempts   int
	RetryDelay time.Duration
}

func (o LockOptions) normalized() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	return o
}

type redisResourceLocker struct {
	client *redis.Client
	opts   LockOptions
}

// NewRedisResourceLocker creates a locker that holds one redis key per calendar.
func NewRedisResourceLocker(client *redis.Client, opts LockOptions) Locker {
	return &redisResourceLocker{
		client: client,
		opts:   opts.normalized(),
	}
}

func (l *redisResourceLocker) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalizeKeys(keys)
	token := uuid.NewString()

	var held []string
	for attempt := 1; ; attempt++ {
		var err error
		held, err = l.acquireAll(ctx, keys, token)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrLockNotAcquired) || attempt >= l.opts.Attempts {
			return err
		}
		if err := sleepCtx(ctx, l.opts.RetryDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}

	defer func() {
		// release with a fresh context so a cancelled caller still frees the keys
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.releaseAll(releaseCtx, held, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisResourceLocker) acquireAll(ctx context.Context, keys []string, token string) ([]string, error) {
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			l.releaseAll(ctx, held, token)
			return nil, fmt.Errorf("acquire resource lock: %w", err)
		}
		if !ok {
			l.releaseAll(ctx, held, token)
			return nil, ErrLockNotAcquired
		}
		held = append(held, key)
	}
	return held, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) releaseAll(ctx context.Context, keys []string, token string) {
	for i := len(keys) - 1; i >= 0; i-- {
		_ = l.release(ctx, keys[i], token)
	}
}

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock: %w", err)
	}
	return nil
}

// localLocker is the single-process equivalent used by the memory storage
// driver. Each key maps to a one-slot channel so acquisition can respect
// context cancellation.
type localLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	opts  LockOptions
}

// NewLocalLocker returns an in-process Locker with the same bounded-retry
// semantics as the redis implementation.
func NewLocalLocker(opts LockOptions) Locker {
	return &localLocker{
		slots: make(map[string]chan struct{}),
		opts:  opts.normalized(),
	}
}

func (l *localLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *localLocker) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalizeKeys(keys)

	var held []chan struct{}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
		held = held[:0]
	}

	for attempt := 1; ; attempt++ {
		acquired := true
		for _, key := range keys {
			ch := l.slot(key)
			select {
			case ch <- struct{}{}:
				held = append(held, ch)
			default:
				acquired = false
			}
			if !acquired {
				break
			}
		}
		if acquired {
			break
		}
		release()
		if attempt >= l.opts.Attempts {
			return ErrLockNotAcquired
		}
		if err := sleepCtx(ctx, l.opts.RetryDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	defer release()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
