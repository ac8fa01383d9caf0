package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PayloadCache stores fetched payloads in Redis keyed by data source.
// It is a read-through layer in front of the cached_data column: a Redis
// outage degrades to database-backed caching, never to an error.
type PayloadCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPayloadCache creates a payload cache. A nil client disables it.
func NewPayloadCache(client *redis.Client, logger *zap.Logger) *PayloadCache {
	return &PayloadCache{client: client, logger: logger}
}

// Enabled reports whether Redis is configured.
func (c *PayloadCache) Enabled() bool {
	return c != nil && c.client != nil
}

func payloadKey(dataSourceID uuid.UUID) string {
	return fmt.Sprintf("ds:%s:payload", dataSourceID)
}

// Get returns the cached payload, or (nil, false) on miss or outage.
func (c *PayloadCache) Get(ctx context.Context, dataSourceID uuid.UUID) (any, bool) {
	if !c.Enabled() {
		return nil, false
	}

	raw, err := c.client.Get(ctx, payloadKey(dataSourceID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis payload read failed",
				zap.String("data_source_id", dataSourceID.String()), zap.Error(err))
		}
		return nil, false
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("cached payload is corrupt, dropping",
			zap.String("data_source_id", dataSourceID.String()), zap.Error(err))
		c.Delete(ctx, dataSourceID)
		return nil, false
	}
	return payload, true
}

// Set stores a payload with the source's cache TTL. Best effort.
func (c *PayloadCache) Set(ctx context.Context, dataSourceID uuid.UUID, payload any, ttl time.Duration) {
	if !c.Enabled() || ttl <= 0 {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("payload not cacheable",
			zap.String("data_source_id", dataSourceID.String()), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, payloadKey(dataSourceID), raw, ttl).Err(); err != nil {
		c.logger.Warn("redis payload write failed",
			zap.String("data_source_id", dataSourceID.String()), zap.Error(err))
	}
}

// Delete evicts a cached payload. Best effort.
func (c *PayloadCache) Delete(ctx context.Context, dataSourceID uuid.UUID) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, payloadKey(dataSourceID)).Err(); err != nil {
		c.logger.Warn("redis payload delete failed",
			zap.String("data_source_id", dataSourceID.String()), zap.Error(err))
	}
}
