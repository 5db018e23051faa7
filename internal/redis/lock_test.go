package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLockerRunsCriticalSectionAndReleases(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisResourceLocker(client, LockOptions{TTL: time.Second, Attempts: 1})

	provider := ProviderKey(uuid.New())
	chair := ResourceKey(uuid.New())

	ran := false
	err := locker.WithLocks(context.Background(), []string{chair, provider, chair}, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(provider))
		assert.True(t, mr.Exists(chair))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(provider))
	assert.False(t, mr.Exists(chair))
}

func TestRedisLockerGivesUpAfterBoundedAttempts(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisResourceLocker(client, LockOptions{TTL: time.Second, Attempts: 3, RetryDelay: time.Millisecond})

	provider := ProviderKey(uuid.New())
	patient := PatientKey(uuid.New())
	require.NoError(t, mr.Set(provider, "someone-else"))

	calls := 0
	err := locker.WithLocks(context.Background(), []string{patient, provider}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Zero(t, calls)
	// partial acquisitions are rolled back
	assert.False(t, mr.Exists(patient))
	got, _ := mr.Get(provider)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerPropagatesCallbackError(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisResourceLocker(client, LockOptions{})
	key := ResourceKey(uuid.New())

	boom := errors.New("boom")
	err := locker.WithLocks(context.Background(), []string{key}, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(LockOptions{Attempts: 200, RetryDelay: time.Millisecond})
	key := ProviderKey(uuid.New())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLocks(context.Background(), []string{key}, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerReportsContention(t *testing.T) {
	locker := NewLocalLocker(LockOptions{Attempts: 2, RetryDelay: time.Millisecond})
	key := ResourceKey(uuid.New())

	err := locker.WithLocks(context.Background(), []string{key}, func(ctx context.Context) error {
		return locker.WithLocks(ctx, []string{key}, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalizeKeys([]string{"c", "", "a", "b", "a"}))
}
