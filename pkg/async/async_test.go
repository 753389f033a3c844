package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/async"
)

func TestAsync(t *testing.T) {
	t.Parallel()

	t.Run("returns result", func(t *testing.T) {
		t.Parallel()

		f := async.Async(context.Background(), 21, func(_ context.Context, v int) (int, error) {
			return v * 2, nil
		})
		res, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, 42, res)
	})

	t.Run("propagates error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		f := async.Async(context.Background(), "x", func(context.Context, string) (string, error) {
			return "", boom
		})
		_, err := f.Await()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("pre-canceled context skips the call", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var called atomic.Bool
		f := async.Async(ctx, 0, func(context.Context, int) (int, error) {
			called.Store(true)
			return 1, nil
		})
		_, err := f.Await()
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called.Load())
	})
}

func TestFuture_AwaitContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := async.Async(context.Background(), 0, func(context.Context, int) (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.AwaitContext(ctx)
	assert.ErrorIs(t, err, async.ErrAbandoned)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-f.Done()
	res, err := f.AwaitContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res)
}

func TestWaitAll(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")

	res, err := async.WaitAll(
		async.Completed(1, nil),
		async.Completed(0, first),
		async.Async(context.Background(), 3, func(_ context.Context, v int) (int, error) { return v, nil }),
		async.Completed(0, second),
	)
	assert.Equal(t, []int{1, 0, 3, 0}, res)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)

	res, err = async.WaitAll[int]()
	assert.NoError(t, err)
	assert.Empty(t, res)
}
