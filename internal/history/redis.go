package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/watchparty/pkg/models"
)

// RedisOptions configures the Redis backed history.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
	Limit    int
}

// RedisStore keeps history as a capped list of JSON entries, newest at the head.
type RedisStore struct {
	client *redis.Client
	key    string
	limit  int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if opts.Limit <= 0 {
		return nil, ErrInvalidLimit
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("address", opts.Address),
		zap.Int("db", opts.DB),
		zap.String("key", opts.Key))

	return NewRedisStoreWithClient(client, opts.Key, opts.Limit), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string, limit int) *RedisStore {
	return &RedisStore{client: client, key: key, limit: limit}
}

func (r *RedisStore) Record(ctx context.Context, entry models.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, int64(r.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record history in Redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 || n > r.limit {
		n = r.limit
	}

	items, err := r.client.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	entries := make([]models.HistoryEntry, 0, len(items))
	for _, item := range items {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
