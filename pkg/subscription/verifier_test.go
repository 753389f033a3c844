package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/subscription"
)

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	t.Run("first read matches", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore()
		_, err := store.Upsert(ctx, proRecord(keyA, 1))
		require.NoError(t, err)

		v := subscription.NewVerifier(store, subscription.WithVerifyPolicy(5, time.Millisecond))
		res := v.Verify(ctx, keyA, subscription.PlanPro)

		assert.True(t, res.Verified)
		assert.Equal(t, 1, res.Attempts)
		require.NotNil(t, res.Record)
		assert.Equal(t, subscription.PlanPro, res.Record.Plan)
	})

	t.Run("budget exhausted is not an error", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore()
		_, err := store.Upsert(ctx, freeRecord(keyA, 1))
		require.NoError(t, err)

		reg := prometheus.NewRegistry()
		metrics := subscription.NewMetrics(reg)
		v := subscription.NewVerifier(store,
			subscription.WithVerifyPolicy(3, time.Millisecond),
			subscription.WithVerifierMetrics(metrics),
		)
		res := v.Verify(ctx, keyA, subscription.PlanPro)

		assert.False(t, res.Verified)
		assert.Equal(t, 3, res.Attempts)
		require.NotNil(t, res.Record)
		assert.Equal(t, subscription.PlanFree, res.Record.Plan)
		assert.Equal(t, 1, testutil.CollectAndCount(metrics.VerifyAttempts))
	})

	t.Run("late write is observed", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore()

		go func() {
			time.Sleep(5 * time.Millisecond)
			_, _ = store.Upsert(context.Background(), proRecord(keyA, 1))
		}()

		v := subscription.NewVerifier(store, subscription.WithVerifyPolicy(50, 2*time.Millisecond))
		res := v.Verify(ctx, keyA, subscription.PlanPro)

		assert.True(t, res.Verified)
		assert.Greater(t, res.Attempts, 1)
	})

	t.Run("read errors are swallowed", func(t *testing.T) {
		t.Parallel()

		fs := &failingStore{Store: subscription.NewMemoryStore(), getErr: subscription.ErrStoreUnavailable}
		v := subscription.NewVerifier(fs, subscription.WithVerifyPolicy(2, 0))
		res := v.Verify(context.Background(), keyA, subscription.PlanPro)

		assert.False(t, res.Verified)
		assert.Nil(t, res.Record)
		assert.Equal(t, 2, fs.GetCalls())
	})

	t.Run("canceled context stops waiting", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		v := subscription.NewVerifier(subscription.NewMemoryStore(), subscription.WithVerifyPolicy(5, time.Hour))

		done := make(chan subscription.Verification, 1)
		go func() { done <- v.Verify(ctx, keyA, subscription.PlanPro) }()

		select {
		case res := <-done:
			assert.False(t, res.Verified)
			assert.Equal(t, 1, res.Attempts)
		case <-time.After(time.Second):
			t.Fatal("Verify did not return after context cancellation")
		}
	})
}
