// Package cache 设备状态的 Redis 缓存
//
// 设备状态上报频率低、读取方多（仪表盘、巡检脚本），
// 写入带 TTL：设备离线后状态自动过期
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"presence-validation/internal/models"

	"github.com/go-redis/redis/v8"
)

// DeviceStatusCache 设备状态缓存
type DeviceStatusCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewDeviceStatusCache 创建设备状态缓存
func NewDeviceStatusCache(client *redis.Client, keyPrefix string, ttlSeconds int) *DeviceStatusCache {
	return &DeviceStatusCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       time.Duration(ttlSeconds) * time.Second,
	}
}

// StoreDeviceStatus 写入设备状态
func (c *DeviceStatusCache) StoreDeviceStatus(ctx context.Context, deviceID string, status *models.DeviceStatusMessage) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal device status: %w", err)
	}

	key := c.keyPrefix + deviceID
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store device status: %w", err)
	}
	return nil
}

// GetDeviceStatus 读取设备状态；缓存未命中返回 (nil, nil)
func (c *DeviceStatusCache) GetDeviceStatus(ctx context.Context, deviceID string) (*models.DeviceStatusMessage, error) {
	key := c.keyPrefix + deviceID
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device status: %w", err)
	}

	var status models.DeviceStatusMessage
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device status: %w", err)
	}
	return &status, nil
}
