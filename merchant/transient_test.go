package merchant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryTransientStore(t *testing.T) {
	store := NewMemoryTransientStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryTransientStoreExpiry(t *testing.T) {
	store := NewMemoryTransientStore()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", "v", StepUpTTL))

	now = now.Add(StepUpTTL - time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransientStoreOverwrite(t *testing.T) {
	store := NewMemoryTransientStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "old", time.Minute))
	require.NoError(t, store.Set(ctx, "k", "new", time.Minute))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "new", v)
}
