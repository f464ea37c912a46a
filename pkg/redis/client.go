package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/exitwatch/pkg/db/models/exits"
	"github.com/canopy-network/exitwatch/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PositionKey holds the shared chain position.
const PositionKey = "exitwatch:position"

// Client wraps the Redis client for the shared position tier and record notifications (Pub/Sub).
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db))

	return NewWithClient(rdb, logger), nil
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{client: rdb, logger: logger}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish publishes a message to a Redis Pub/Sub channel.
// This is a best-effort operation - errors are logged but not returned
// so a notification failure never fails a persisted write.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type storedPosition struct {
	Position  exits.ChainPosition `json:"position"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// GetPosition returns the shared position, ok=false when absent.
func (c *Client) GetPosition(ctx context.Context) (exits.ChainPosition, time.Time, bool, error) {
	raw, err := c.client.Get(ctx, PositionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return exits.ChainPosition{}, time.Time{}, false, nil
	}
	if err != nil {
		return exits.ChainPosition{}, time.Time{}, false, err
	}
	pos, expiresAt, err := decodePosition(raw)
	if err != nil {
		return exits.ChainPosition{}, time.Time{}, false, err
	}
	return pos, expiresAt, true, nil
}

// SetPosition stores the position and lets Redis drop it at expiresAt.
func (c *Client) SetPosition(ctx context.Context, pos exits.ChainPosition, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := encodePosition(pos, expiresAt)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, PositionKey, raw, ttl).Err()
}

func encodePosition(pos exits.ChainPosition, expiresAt time.Time) ([]byte, error) {
	return json.Marshal(storedPosition{Position: pos, ExpiresAt: expiresAt})
}

func decodePosition(raw []byte) (exits.ChainPosition, time.Time, error) {
	var sp storedPosition
	if err := json.Unmarshal(raw, &sp); err != nil {
		return exits.ChainPosition{}, time.Time{}, fmt.Errorf("decode shared position: %w", err)
	}
	// epoch is always derived from slot
	pos := exits.NewChainPosition(sp.Position.Slot, sp.Position.ObservedAt)
	return pos, sp.ExpiresAt, nil
}
