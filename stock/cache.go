package stock

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

const (
	snapshotKey           = "inventory:snapshot"
	snapshotGenerationKey = "inventory:snapshot:gen"
	snapshotTTL           = 5 * time.Minute
)

// redisClient is the part of redis.Cmdable the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// cachedSnapshot 記錄讀取資料庫前的世代；世代不符的快照視為未命中
type cachedSnapshot struct {
	Generation int64                     `json:"generation"`
	Snapshot   *models.InventorySnapshot `json:"snapshot"`
}

// SnapshotCache 快取完整庫存快照；任何庫存異動後都必須失效。
//
// Readers call Generation before querying the database and pass it to Set.
// Invalidate bumps the generation, so a snapshot read before a concurrent
// write is never served even if it lands in Redis after the invalidation.
type SnapshotCache struct {
	client redisClient
	logger *zap.Logger
}

// NewSnapshotCache accepts a nil client, in which case every lookup misses.
// A nil *SnapshotCache behaves the same way.
func NewSnapshotCache(client redisClient, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		logger: logger,
	}
}

func (c *SnapshotCache) Get(ctx context.Context) (*models.InventorySnapshot, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	values, err := c.client.MGet(ctx, snapshotKey, snapshotGenerationKey).Result()
	if err != nil {
		c.logger.Warn("failed to get inventory snapshot from cache", zap.Error(err))
		return nil, false
	}
	raw, ok := values[0].(string)
	if !ok {
		return nil, false
	}
	generation, err := parseGeneration(values[1])
	if err != nil {
		c.logger.Warn("corrupt inventory snapshot generation", zap.Error(err))
		return nil, false
	}

	var entry cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Snapshot == nil {
		c.logger.Warn("corrupt inventory snapshot in cache", zap.Error(err))
		return nil, false
	}
	if entry.Generation != generation {
		return nil, false
	}
	return entry.Snapshot, true
}

// Generation 回傳目前世代；讀取失敗時 ok 為 false，呼叫端不可寫入快取
func (c *SnapshotCache) Generation(ctx context.Context) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}

	value, err := c.client.Get(ctx, snapshotGenerationKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.logger.Warn("failed to get inventory snapshot generation", zap.Error(err))
		return 0, false
	}
	generation, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		c.logger.Warn("corrupt inventory snapshot generation", zap.Error(err))
		return 0, false
	}
	return generation, true
}

// Set stores a snapshot read from the database after Generation returned
// generation.
func (c *SnapshotCache) Set(ctx context.Context, generation int64, snapshot *models.InventorySnapshot) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(cachedSnapshot{Generation: generation, Snapshot: snapshot})
	if err != nil {
		c.logger.Warn("failed to encode inventory snapshot", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		c.logger.Warn("failed to cache inventory snapshot", zap.Error(err))
	}
}

func (c *SnapshotCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, snapshotGenerationKey).Err(); err != nil {
		c.logger.Warn("failed to bump inventory snapshot generation", zap.Error(err))
	}
	if err := c.client.Del(ctx, snapshotKey).Err(); err != nil {
		c.logger.Warn("failed to invalidate inventory snapshot", zap.Error(err))
	}
}

func parseGeneration(value interface{}) (int64, error) {
	if value == nil {
		return 0, nil
	}
	s, ok := value.(string)
	if !ok {
		return 0, errors.New("unexpected generation type")
	}
	return strconv.ParseInt(s, 10, 64)
}
