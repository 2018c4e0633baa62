package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

func entry(id string) models.HistoryEntry {
	return models.HistoryEntry{
		Request: models.PlaybackRequest{
			ID:          id,
			Destination: models.Destination{ServerID: "S", ChannelID: "C"},
			URL:         "https://www.youtube.com/watch?v=" + id,
		},
		Source:     "youtube",
		Result:     models.ResultPlayed,
		StartedAt:  time.Unix(100, 0).UTC(),
		FinishedAt: time.Unix(101, 0).UTC(),
	}
}

func ids(entries []models.HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Request.ID)
	}
	return out
}

func TestMemoryStore_NewestFirstAndBounded(t *testing.T) {
	store, err := NewMemoryStore(3)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Record(ctx, entry(fmt.Sprintf("r%d", i))))
	}

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r5", "r4", "r3"}, ids(all))

	two, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"r5", "r4"}, ids(two))
}

func TestMemoryStore_Empty(t *testing.T) {
	store, err := NewMemoryStore(3)
	require.NoError(t, err)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_InvalidLimit(t *testing.T) {
	_, err := NewMemoryStore(0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("WATCHPARTY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WATCHPARTY_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	key := fmt.Sprintf("watchparty:test:history:%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(context.Background(), key)
		client.Close()
	})

	store := NewRedisStoreWithClient(client, key, 3)
	for i := 1; i <= 4; i++ {
		require.NoError(t, store.Record(ctx, entry(fmt.Sprintf("r%d", i))))
	}

	entries, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r4", "r3", "r2"}, ids(entries))
	assert.Equal(t, models.ResultPlayed, entries[0].Result)
	assert.True(t, entries[0].StartedAt.Equal(time.Unix(100, 0)))

	length, err := client.LLen(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, length)
}
