package broadcaster

import (
	"context"

	commonredis "presence-validation/internal/common/redis"

	"github.com/go-redis/redis/v8"
)

// RedisStreamPublisher 基于 Redis Stream 的下游事件流
type RedisStreamPublisher struct {
	client *redis.Client
}

// NewRedisStreamPublisher 创建 Redis Stream 发布器
func NewRedisStreamPublisher(client *redis.Client) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client}
}

// PublishJSON 把事件序列化为 JSON 并追加到 Stream
func (p *RedisStreamPublisher) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	return commonredis.PublishJSONToStream(ctx, p.client, stream, data)
}
