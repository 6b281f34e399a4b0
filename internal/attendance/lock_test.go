package attendance_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/attendance/attendancetest"
)

func TestMemoryLockerStaleUnlockKeepsNewerHold(t *testing.T) {
	l := attendancetest.NewLocker()
	ctx := context.Background()

	first, err := l.Lock(ctx, "scan:t1:c1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	busy, err := l.Lock(ctx, "scan:t1:c1", time.Second)
	require.NoError(t, err)
	assert.Empty(t, busy)

	l.Expire("scan:t1:c1")
	second, err := l.Lock(ctx, "scan:t1:c1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, second)

	require.NoError(t, l.Unlock(ctx, "scan:t1:c1", first))
	assert.True(t, l.Held("scan:t1:c1"))
	require.NoError(t, l.Unlock(ctx, "scan:t1:c1", second))
	assert.False(t, l.Held("scan:t1:c1"))
}

// Runs against a real Redis when ATTENDANCE_TEST_REDIS_ADDR is set.
func TestRedisLockStaleUnlockKeepsNewerHold(t *testing.T) {
	addr := os.Getenv("ATTENDANCE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ATTENDANCE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	lock := attendance.NewRedisLock(client)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)

	first, err := lock.Lock(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	time.Sleep(100 * time.Millisecond)
	second, err := lock.Lock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, second)

	require.NoError(t, lock.Unlock(ctx, key, first))
	busy, err := lock.Lock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, busy, "an expired holder must not release the newer hold")

	require.NoError(t, lock.Unlock(ctx, key, second))
	third, err := lock.Lock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, third)
	require.NoError(t, lock.Unlock(ctx, key, third))
}
