package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// CacheManager Redis 实时缓存（最新体征 + 设备状态）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) realtimeKey(deviceID string) string {
	return fmt.Sprintf("%s%s%s", c.config.Cache.RealtimeKeyPrefix, deviceID, c.config.Cache.RealtimeSuffix)
}

func (c *CacheManager) statusKey(deviceID string) string {
	return fmt.Sprintf("%s%s:status", c.config.Cache.RealtimeKeyPrefix, deviceID)
}

func (c *CacheManager) ttl() time.Duration {
	return time.Duration(c.config.Cache.RealtimeTTL) * time.Second
}

// HandleVitals 覆盖写入最新体征（带 TTL，设备停止上报后自然过期）
func (c *CacheManager) HandleVitals(ctx context.Context, snap models.VitalsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime vitals: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.realtimeKey(snap.DeviceID), data, c.ttl()).Err(); err != nil {
		return fmt.Errorf("failed to set realtime cache: %w", err)
	}
	return nil
}

// GetRealtime 读取最新体征
func (c *CacheManager) GetRealtime(ctx context.Context, deviceID string) (*models.VitalsSnapshot, error) {
	val, err := c.redisClient.Get(ctx, c.realtimeKey(deviceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("realtime data not found for device: %s", deviceID)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var snap models.VitalsSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal realtime data: %w", err)
	}
	return &snap, nil
}

// ClearRealtime 设备断开后删除实时体征
func (c *CacheManager) ClearRealtime(ctx context.Context, deviceID string) error {
	if err := c.redisClient.Del(ctx, c.realtimeKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear realtime cache: %w", err)
	}
	return nil
}

// UpdateDeviceStatus 写入链路状态（不过期）
func (c *CacheManager) UpdateDeviceStatus(ctx context.Context, status models.DeviceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal device status: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.statusKey(status.DeviceID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set device status: %w", err)
	}
	return nil
}

// GetDeviceStatus 读取链路状态
func (c *CacheManager) GetDeviceStatus(ctx context.Context, deviceID string) (*models.DeviceStatus, error) {
	val, err := c.redisClient.Get(ctx, c.statusKey(deviceID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("device status not found: %s", deviceID)
		}
		return nil, fmt.Errorf("failed to get device status: %w", err)
	}

	var status models.DeviceStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device status: %w", err)
	}
	return &status, nil
}
