package library

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookLocksExclusive(t *testing.T) {
	locks := NewBookLocks(time.Second)
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, 7)
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Zero(t, locks.Len())
}

func TestBookLocksIndependentKeys(t *testing.T) {
	locks := NewBookLocks(50 * time.Millisecond)
	ctx := context.Background()

	r1, err := locks.Acquire(ctx, 1)
	require.NoError(t, err)
	r2, err := locks.Acquire(ctx, 2)
	require.NoError(t, err, "a different book must not wait")
	assert.Equal(t, 2, locks.Len())

	r1()
	r2()
	assert.Zero(t, locks.Len())
}

func TestBookLocksTimeout(t *testing.T) {
	locks := NewBookLocks(10 * time.Millisecond)
	ctx := context.Background()

	release, err := locks.Acquire(ctx, 3)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, 3)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.Len(), "timed out waiter must drop its reference")

	release()
	release() // second call is a no-op
	assert.Zero(t, locks.Len())
}

func TestBookLocksContextCancel(t *testing.T) {
	locks := NewBookLocks(0)
	release, err := locks.Acquire(context.Background(), 4)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.Acquire(ctx, 4)
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.ErrorIs(t, err, context.Canceled)
}
