package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// ErrAlertNotFound 告警不存在
var ErrAlertNotFound = errors.New("repository: alert not found")

// DefaultAlertLimit 每个设备保留的告警数
const DefaultAlertLimit = 100

// RedisAlertRepository 告警历史：每个设备一个 List，最新的在最前
type RedisAlertRepository struct {
	client *redis.Client
	limit  int64
	logger *zap.Logger
}

// NewRedisAlertRepository 创建告警仓库
func NewRedisAlertRepository(client *redis.Client, limit int, logger *zap.Logger) *RedisAlertRepository {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	return &RedisAlertRepository{client: client, limit: int64(limit), logger: logger}
}

func alertsKey(deviceID string) string {
	return fmt.Sprintf("neuroguard:device:%s:alerts", deviceID)
}

// SaveAlert 写入告警并裁剪
func (r *RedisAlertRepository) SaveAlert(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	key := alertsKey(alert.DeviceID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ListAlerts 按时间倒序返回告警
func (r *RedisAlertRepository) ListAlerts(ctx context.Context, deviceID string) ([]models.Alert, error) {
	raw, err := r.client.LRange(ctx, alertsKey(deviceID), 0, r.limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]models.Alert, 0, len(raw))
	for _, item := range raw {
		var a models.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			r.logger.Warn("Skipping corrupt alert entry", zap.Error(err))
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// HandleAlert 作为报警 sink 持久化
func (r *RedisAlertRepository) HandleAlert(ctx context.Context, alert *models.Alert) error {
	return r.SaveAlert(ctx, alert)
}

// AcknowledgeAlert 确认告警，原位更新
func (r *RedisAlertRepository) AcknowledgeAlert(ctx context.Context, deviceID, alertID string) error {
	key := alertsKey(deviceID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		idx, _, alert, err := r.findAlert(ctx, tx, key, alertID)
		if err != nil {
			return err
		}
		if alert.Acknowledged {
			return nil
		}
		now := time.Now()
		alert.Acknowledged = true
		alert.AcknowledgedAt = &now
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, idx, data)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		r.logger.Info("Alert acknowledged", zap.String("device_id", deviceID), zap.String("alert_id", alertID))
		return nil
	}, key)
}

// RemoveAlert 删除单条告警
func (r *RedisAlertRepository) RemoveAlert(ctx context.Context, deviceID, alertID string) error {
	key := alertsKey(deviceID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		_, raw, _, err := r.findAlert(ctx, tx, key, alertID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, key, 1, raw)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to remove alert: %w", err)
		}
		return nil
	}, key)
}

func (r *RedisAlertRepository) findAlert(ctx context.Context, tx *redis.Tx, key, alertID string) (int64, string, *models.Alert, error) {
	raw, err := tx.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	for i, item := range raw {
		var a models.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		if a.ID == alertID {
			return int64(i), item, &a, nil
		}
	}
	return 0, "", nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
}
