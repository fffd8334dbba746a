package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datapult/datapult/internal/database/testutil"
)

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)

	current := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// A new window starts once the previous one has elapsed.
	current = current.Add(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)

	current := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "introspect:abc", []byte("ok"), time.Minute))

	value, found, err := store.Get(ctx, "introspect:abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("ok"), value)

	// Expired entries read as a miss and are purged lazily.
	current = current.Add(5 * time.Minute)
	_, found, err = store.Get(ctx, "introspect:abc")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "introspect:def", []byte("ok"), time.Minute))
	require.NoError(t, store.Delete(ctx, "introspect:def"))
	_, found, err = store.Get(ctx, "introspect:def")
	require.NoError(t, err)
	require.False(t, found)
}
