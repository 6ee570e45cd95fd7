// Package bridge mirrors an Amfiprot connection onto Redis: node identity
// and firmware versions are written to hashes, device debug output is
// published on a channel, and a Redis list serves as a command queue for
// device operations.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection with the small publish/subscribe
// surface the bridge needs.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ctx: ctx}, nil
}

// WriteString writes a string field to a hash.
func (c *Client) WriteString(key, field, value string) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// WriteAndPublishString writes a string field to a hash and publishes the
// change on the key's channel.
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// GetString reads a string field from a hash.
func (c *Client) GetString(key, field string) (string, error) {
	val, err := c.client.HGet(c.ctx, key, field).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key %s field %s not found", key, field)
	}
	return val, err
}

// Publish publishes a message on a channel.
func (c *Client) Publish(channel, message string) error {
	return c.client.Publish(c.ctx, channel, message).Err()
}

// Subscribe subscribes to a channel and returns the message stream plus a
// close function.
func (c *Client) Subscribe(channel string) (<-chan *redis.Message, func()) {
	pubsub := c.client.Subscribe(c.ctx, channel)
	return pubsub.Channel(), func() { pubsub.Close() }
}

// LPush pushes a value onto the head of a list.
func (c *Client) LPush(key, value string) error {
	return c.client.LPush(c.ctx, key, value).Err()
}

// BRPop blocks up to timeout for a value from the tail of a list. A nil
// slice with nil error means the wait timed out.
func (c *Client) BRPop(timeout time.Duration, key string) ([]string, error) {
	result, err := c.client.BRPop(c.ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected result from BRPOP: %v", result)
	}
	return result, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
