package subscription_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/subscription"
)

func proRecord(key string, marker int64) subscription.Record {
	return subscription.Record{
		UserKey:                key,
		Plan:                   subscription.PlanPro,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		LastUpdated:            marker,
	}
}

func freeRecord(key string, marker int64) subscription.Record {
	rec := subscription.DefaultRecord(key, fixedNow)
	rec.LastUpdated = marker
	return rec
}

func TestMemoryStore_Get(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := subscription.NewMemoryStore()

	_, err := store.Get(ctx, keyA)
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)

	_, err = store.Upsert(ctx, proRecord(keyA, 1))
	require.NoError(t, err)

	rec, err := store.Get(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanPro, rec.Plan)

	byCustomer, err := store.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, keyA, byCustomer.UserKey)

	_, err = store.GetByCustomerID(ctx, "cus_missing")
	assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
}

func TestMemoryStore_ConditionalUpsertOrdering(t *testing.T) {
	t.Parallel()

	t.Run("later write arriving first wins", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore()

		_, applied, err := store.ConditionalUpsert(ctx, freeRecord(keyA, 2))
		require.NoError(t, err)
		assert.True(t, applied)

		stored, applied, err := store.ConditionalUpsert(ctx, proRecord(keyA, 1))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, subscription.PlanFree, stored.Plan)
		assert.Equal(t, int64(2), stored.LastUpdated)
	})

	t.Run("equal marker is a no-op", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore()

		_, _, err := store.ConditionalUpsert(ctx, proRecord(keyA, 5))
		require.NoError(t, err)

		_, applied, err := store.ConditionalUpsert(ctx, freeRecord(keyA, 5))
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("created at survives updates", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := subscription.NewMemoryStore(subscription.WithMemoryStoreNow(fixedClock()))

		first, _, err := store.ConditionalUpsert(ctx, freeRecord(keyA, 1))
		require.NoError(t, err)

		second, applied, err := store.ConditionalUpsert(ctx, proRecord(keyA, 2))
		require.NoError(t, err)
		require.True(t, applied)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
	})
}

func TestMemoryStore_ConcurrentWritesKeepHighestMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := subscription.NewMemoryStore()

	var wg sync.WaitGroup
	for _, rec := range []subscription.Record{proRecord(keyA, 5), freeRecord(keyA, 3)} {
		wg.Add(1)
		go func(rec subscription.Record) {
			defer wg.Done()
			_, _, err := store.ConditionalUpsert(ctx, rec)
			assert.NoError(t, err)
		}(rec)
	}
	wg.Wait()

	rec, err := store.Get(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.LastUpdated)
	assert.Equal(t, subscription.PlanPro, rec.Plan)
}

func TestMemoryStore_UpsertNeverRegressesMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := subscription.NewMemoryStore()

	_, err := store.Upsert(ctx, proRecord(keyA, 100))
	require.NoError(t, err)

	stored, err := store.Upsert(ctx, freeRecord(keyA, 7))
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanFree, stored.Plan)
	assert.Equal(t, int64(101), stored.LastUpdated)
}

func TestMemoryStore_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("invalid record", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		_, _, err := store.ConditionalUpsert(ctx, subscription.Record{UserKey: keyA, Plan: "gold"})
		assert.ErrorIs(t, err, subscription.ErrInvalidRecord)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("uuid keys reject free-form ids", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(subscription.WithUUIDKeys())

		_, err := store.Get(ctx, "sess_123")
		assert.ErrorIs(t, err, subscription.ErrKeyFormatRejected)

		_, _, err = store.ConditionalUpsert(ctx, freeRecord("sess_123", 1))
		assert.ErrorIs(t, err, subscription.ErrKeyFormatRejected)

		_, _, err = store.ConditionalUpsert(ctx, freeRecord(keyA, 1))
		assert.NoError(t, err)
	})
}
