// Package store provides the optional Valkey-backed call presence cache
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shiv6146/twilio-realtime-relay/internal/models"
	"github.com/valkey-io/valkey-go"
)

const activeCallPrefix = "call:active:"

// Cache tracks bridged calls in Valkey so several relay instances can report a
// combined active-call count. Each call writes only its own key.
type Cache struct {
	client valkey.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(ctx context.Context, url, password string, db int, ttl time.Duration) (*Cache, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{url},
		SelectDB:    db,
	}
	if password != "" {
		opts.Password = password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Test connection
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return newCache(client, ttl), nil
}

func newCache(client valkey.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Close closes the cache connection
func (c *Cache) Close() {
	c.client.Close()
}

// activeCallKey generates the cache key for tracking active calls
func activeCallKey(sessionID string) string {
	return activeCallPrefix + sessionID
}

// SetActiveCall writes or refreshes the presence record of a call
func (c *Cache) SetActiveCall(ctx context.Context, call *models.ActiveCall) error {
	key := activeCallKey(call.SessionID)

	hset := c.client.B().Hset().Key(key).FieldValue()
	for field, value := range call.Fields() {
		hset = hset.FieldValue(field, value)
	}

	// The TTL bounds how long a record survives a relay that dies mid-call
	for _, resp := range c.client.DoMulti(ctx,
		hset.Build(),
		c.client.B().Expire().Key(key).Seconds(int64(c.ttl/time.Second)).Build(),
	) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to set active call %s: %w", call.SessionID, err)
		}
	}
	return nil
}

// RemoveActiveCall removes a call from the active calls cache
func (c *Cache) RemoveActiveCall(ctx context.Context, sessionID string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(activeCallKey(sessionID)).Build()).Error()
}

// GetActiveCallCount returns the number of active calls across all relays
func (c *Cache) GetActiveCallCount(ctx context.Context) (int64, error) {
	var (
		count  int64
		cursor uint64
	)
	for {
		entry, err := c.client.Do(ctx,
			c.client.B().Scan().Cursor(cursor).Match(activeCallPrefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			return 0, err
		}
		count += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			return count, nil
		}
	}
}
