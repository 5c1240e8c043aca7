package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// BriefingCache 定义了已拼装上下文文本的缓存操作。
// 缓存只是性能优化：读不到或 Redis 故障时由调用方重新生成。
type BriefingCache interface {
	GetContext(ctx context.Context, personaID uint, userID string) (string, bool)
	SetContext(ctx context.Context, personaID uint, userID string, text string, ttl time.Duration) error
	// InvalidatePersona 使某人格的全部缓存条目失效，在新经验写入后调用。
	InvalidatePersona(ctx context.Context, personaID uint) error
}

type redisBriefingCache struct {
	redisClient *redis.Client
}

// NewBriefingCache 创建一个新的 BriefingCache 实例。
func NewBriefingCache(redisClient *redis.Client) BriefingCache {
	return &redisBriefingCache{redisClient: redisClient}
}

func contextKey(personaID uint, userID string) string {
	if userID == "" {
		userID = "-"
	}
	return fmt.Sprintf("persona:%d:context:%s", personaID, userID)
}

// GetContext 读取缓存的上下文文本，未命中或出错时返回 false。
func (c *redisBriefingCache) GetContext(ctx context.Context, personaID uint, userID string) (string, bool) {
	text, err := c.redisClient.Get(ctx, contextKey(personaID, userID)).Result()
	if err != nil {
		return "", false
	}
	return text, true
}

// SetContext 写入缓存的上下文文本。
func (c *redisBriefingCache) SetContext(ctx context.Context, personaID uint, userID string, text string, ttl time.Duration) error {
	return c.redisClient.Set(ctx, contextKey(personaID, userID), text, ttl).Err()
}

// InvalidatePersona 删除某人格名下的全部上下文缓存键。
func (c *redisBriefingCache) InvalidatePersona(ctx context.Context, personaID uint) error {
	pattern := fmt.Sprintf("persona:%d:context:*", personaID)
	keys, err := c.redisClient.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to scan context cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redisClient.Del(ctx, keys...).Err()
}
