package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairvote/fairvote/internal/domain"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func sampleResult(id domain.ElectionID) domain.PublicResult {
	return domain.PublicResult{
		ElectionID: id,
		Title:      "Board election",
		Candidates: []string{"Ava", "Noah"},
		Counts:     map[string]int64{"Ava": 2, "Noah": 1},
		TotalVotes: 3,
		IsClosed:   true,
	}
}

func TestResultsCache_SetAndGet_RoundTrips(t *testing.T) {
	client, _ := setupRedis(t)
	cache := NewResultsCache(client, "results", time.Minute)

	ctx := context.Background()
	id := domain.ElectionID("01TESTELECTION")

	require.NoError(t, cache.Set(ctx, id, sampleResult(id)))

	got, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.TotalVotes)
	assert.Equal(t, map[string]int64{"Ava": 2, "Noah": 1}, got.Counts)
}

func TestResultsCache_Get_WhenAbsent_IsAMiss(t *testing.T) {
	client, _ := setupRedis(t)
	cache := NewResultsCache(client, "results", time.Minute)

	_, ok, err := cache.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultsCache_Invalidate_RemovesEntry(t *testing.T) {
	client, _ := setupRedis(t)
	cache := NewResultsCache(client, "results", time.Minute)

	ctx := context.Background()
	id := domain.ElectionID("01TESTELECTION")
	require.NoError(t, cache.Set(ctx, id, sampleResult(id)))
	require.NoError(t, cache.Invalidate(ctx, id))

	_, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultsCache_EntriesExpire(t *testing.T) {
	client, mr := setupRedis(t)
	cache := NewResultsCache(client, "results", time.Minute)

	ctx := context.Background()
	id := domain.ElectionID("01TESTELECTION")
	require.NoError(t, cache.Set(ctx, id, sampleResult(id)))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
