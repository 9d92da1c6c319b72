package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "", ttl)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestRedisStorePutGet(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	rec := sampleRecord("sms-12345678900", 1)
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, rec.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRedisStoreGetMissing(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	store, mr := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleRecord("sms-12345678900", 1)))
	assert.True(t, mr.Exists("textrelay:session:sms-12345678900"))
}

func TestRedisStorePutIf(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()
	key := "sms-12345678900"

	require.NoError(t, store.PutIf(ctx, sampleRecord(key, 1), 0))

	err := store.PutIf(ctx, sampleRecord(key, 1), 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, store.PutIf(ctx, sampleRecord(key, 2), 1))

	err = store.PutIf(ctx, sampleRecord(key, 3), 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = store.PutIf(ctx, sampleRecord("fresh", 2), 5)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestRedisStoreTouch(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()
	key := "sms-12345678900"

	require.NoError(t, store.Put(ctx, sampleRecord(key, 1)))
	require.NoError(t, store.Touch(ctx, key, 5000))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.LastActivity)
	assert.Equal(t, int64(1000), got.CreatedAt)

	err = store.Touch(ctx, "nope", 5000)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisStoreRecordTTL(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()
	key := "sms-12345678900"

	require.NoError(t, store.Put(ctx, sampleRecord(key, 1)))

	_, err := store.Get(ctx, key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisStoreClosed(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put(ctx, sampleRecord("k", 1)), ErrStoreClosed)
	assert.ErrorIs(t, store.PutIf(ctx, sampleRecord("k", 1), 0), ErrStoreClosed)
	assert.ErrorIs(t, store.Touch(ctx, "k", 1), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)

	// Double close is a no-op.
	assert.NoError(t, store.Close())
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	mr.Close()
	assert.Error(t, store.Ping(ctx))
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	store, mr := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set("textrelay:session:bad", "not json"))

	_, err := store.Get(ctx, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisStoreResolverIntegration(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	clock := newFakeClock()
	r := newTestResolver(t, store, clock)
	ctx := context.Background()

	first, err := r.Resolve(ctx, ChannelSMS, "+1 (234) 567-8900", "hello")
	require.NoError(t, err)
	assert.Equal(t, "12345678900-v1", first)

	clock.Advance(5 * time.Minute)
	second, err := r.Resolve(ctx, ChannelSMS, "12345678900", "again")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	clock.Advance(25 * time.Hour)
	third, err := r.Resolve(ctx, ChannelSMS, "12345678900", "back")
	require.NoError(t, err)
	assert.Equal(t, "12345678900-v2", third)

	archived, err := store.Get(ctx, ChatKey(ChannelSMS, "12345678900")+"#v1")
	require.NoError(t, err)
	assert.False(t, archived.Active)
}
