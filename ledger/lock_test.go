package ledger

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "product:1")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside)

	// a different key does not wait on a held one
	unlock, err := locker.Lock(ctx, "product:1")
	require.NoError(t, err)
	defer unlock()

	other, err := locker.Lock(ctx, "product:2")
	require.NoError(t, err)
	other()

	// a waiter gives up with its context
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "product:1")
	assert.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	exerciseLocker(t, k)

	// released entries are dropped
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)

	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Zero(t, k.size())
}

func newTestRedisLocker(t *testing.T, ttl time.Duration, logger cmtlog.Logger) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLockerWithClient(client, "custody:test:", ttl, logger), m
}

func TestRedisLocker(t *testing.T) {
	locker, m := newTestRedisLocker(t, 5*time.Second, nil)
	exerciseLocker(t, locker)

	assert.Eventually(t, func() bool { return len(m.Keys()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRedisLockerRenewsWhileHeld(t *testing.T) {
	ttl := 300 * time.Millisecond
	locker, m := newTestRedisLocker(t, ttl, nil)
	key := "custody:test:product:1"

	unlock, err := locker.Lock(context.Background(), "product:1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		m.FastForward(250 * time.Millisecond)
		require.True(t, m.Exists(key))
		assert.Eventually(t, func() bool { return m.TTL(key) > 100*time.Millisecond }, time.Second, 5*time.Millisecond)
	}

	unlock()
	assert.False(t, m.Exists(key))
}

func TestRedisLockerExpiresAfterCrash(t *testing.T) {
	ttl := 3 * time.Second
	locker, m := newTestRedisLocker(t, ttl, nil)

	_, err := locker.Lock(context.Background(), "product:1")
	require.NoError(t, err)

	other := NewRedisLockerWithClient(locker.client, "custody:test:", ttl, nil)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = other.Lock(short, "product:1")
	assert.ErrorIs(t, err, errLockTimeout)

	// the first holder never renews before its TTL is skipped past
	m.FastForward(ttl + time.Second)
	unlock, err := other.Lock(context.Background(), "product:1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLockerReleaseOnlyOwnKey(t *testing.T) {
	var buf bytes.Buffer
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(&buf))
	locker, m := newTestRedisLocker(t, 5*time.Second, logger)
	key := "custody:test:product:1"

	unlock, err := locker.Lock(context.Background(), "product:1")
	require.NoError(t, err)

	// lease lost and the key taken by another holder
	require.NoError(t, m.Set(key, "someone-else"))
	unlock()

	got, err := m.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
	assert.Contains(t, buf.String(), "Lock expired or was taken over before release")

	t.Run("release failure is logged", func(t *testing.T) {
		buf.Reset()
		client := redis.NewClient(&redis.Options{Addr: m.Addr()})
		broken := NewRedisLockerWithClient(client, "custody:test:", 5*time.Second, logger)
		unlock, err := broken.Lock(context.Background(), "product:2")
		require.NoError(t, err)

		require.NoError(t, client.Close())
		unlock()
		assert.Contains(t, buf.String(), "Failed to release lock")
	})
}
