package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "signal:lock"), mr
}

func TestTryLockExclusive(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "kpi:o1:2024-05", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("signal:lock:kpi:o1:2024-05"))

	_, ok, err = l.TryLock(ctx, "kpi:o1:2024-05", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "kpi:o1:2024-05", token))
	_, ok, err = l.TryLock(ctx, "kpi:o1:2024-05", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "job", "someone-else"))
	assert.True(t, mr.Exists("signal:lock:job"))
}

func TestLockExpires(t *testing.T) {
	l, mr := newLocker(t)
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "job", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)
	_, ok, err = l.TryLock(ctx, "job", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilLocker(t *testing.T) {
	assert.Nil(t, NewLocker(nil, "x"))

	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "job", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), "job", "t"))
}
