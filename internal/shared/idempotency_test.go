package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdempotencyStore(t *testing.T, ttl time.Duration) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, ttl), mr
}

func TestIdempotencyRejectsReplays(t *testing.T) {
	store, _ := newIdempotencyStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "transfer"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "req-1", "transfer"), ErrIdempotencyConflict)
	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "deposit"))

	require.NoError(t, store.Delete(ctx, "req-1", "transfer"))
	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "transfer"))
}

func TestIdempotencyKeysExpire(t *testing.T) {
	store, mr := newIdempotencyStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-2", "withdraw"))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.CheckAndInsert(ctx, "req-2", "withdraw"))
}

func TestIdempotencyRequiresKey(t *testing.T) {
	store, _ := newIdempotencyStore(t, 0)
	require.Error(t, store.CheckAndInsert(context.Background(), "", "deposit"))

	var missing *IdempotencyStore
	require.Error(t, missing.CheckAndInsert(context.Background(), "k", "deposit"))
}

func TestActorContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "123412341234")
	require.Equal(t, "123412341234", ActorFromContext(ctx))
	require.Empty(t, ActorFromContext(context.Background()))
}
