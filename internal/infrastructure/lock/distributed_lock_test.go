package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlockKeepsLockTakenOverAfterExpiry(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()

	first := NewAdjustLock(rdb, 1, "owner-a", time.Second)
	require.NoError(t, first.Lock(ctx, 10*time.Millisecond, 1))

	// first 的锁过期，被另一个请求拿到
	mr.FastForward(2 * time.Second)
	second := NewAdjustLock(rdb, 1, "owner-b", 10*time.Second)
	require.NoError(t, second.Lock(ctx, 10*time.Millisecond, 1))

	require.NoError(t, first.Unlock(ctx))

	owner, err := mr.Get("credit:adjust:lock:user:1")
	require.NoError(t, err)
	assert.Equal(t, "owner-b", owner)

	require.NoError(t, second.Unlock(ctx))
	assert.False(t, mr.Exists("credit:adjust:lock:user:1"))
}

func TestLockRetriesExhausted(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()

	holder := NewAdjustLock(rdb, 2, "holder", 10*time.Second)
	require.NoError(t, holder.Lock(ctx, 10*time.Millisecond, 1))

	waiter := NewAdjustLock(rdb, 2, "waiter", 10*time.Second)
	err := waiter.Lock(ctx, 5*time.Millisecond, 3)
	assert.True(t, errors.Is(err, ErrLockFailed))
}
