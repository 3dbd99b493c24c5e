package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/pkg/logger"
)

// quotaKeyTTL keeps day-scoped quota counters around long enough to survive
// clock skew between nodes, then lets them expire on their own.
const quotaKeyTTL = 48 * time.Hour

const activeUserKey = "memory:active_users"

type Client struct {
	client       *redis.Client
	embeddingTTL time.Duration
}

func NewClient(host string, port int, password string, db int, embeddingTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, embeddingTTL: embeddingTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetEmbedding implements embedding.Cache. A miss returns nil, nil.
func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("key", key))
	return embedding, nil
}

func (c *Client) SetEmbedding(ctx context.Context, key string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.embeddingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	return nil
}

// IncrDailyCount bumps the per-user counter for the given day and returns the
// new total. The first increment of a day arms the key's expiry.
func (c *Client) IncrDailyCount(ctx context.Context, userID, day string) (int64, error) {
	key := fmt.Sprintf("quota:%s:%s", userID, day)

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota counter: %w", err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, quotaKeyTTL).Err(); err != nil {
			logger.Warn("Failed to set quota key expiry", zap.String("key", key), zap.Error(err))
		}
	}

	return count, nil
}

// AddActiveUser records that a user has written memories, so consolidation
// knows whose records to sweep.
func (c *Client) AddActiveUser(ctx context.Context, userID string) error {
	if err := c.client.SAdd(ctx, activeUserKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to record active user: %w", err)
	}
	return nil
}

func (c *Client) ActiveUsers(ctx context.Context) ([]string, error) {
	users, err := c.client.SMembers(ctx, activeUserKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
