package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// DefaultSessionLimit 每个设备保留的会话数（含原始 ECG，体积较大）
const DefaultSessionLimit = 20

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("repository: session not found")

// RedisSessionRepository 会话存储：每个设备一个 List，最新的在最前
type RedisSessionRepository struct {
	client *redis.Client
	limit  int64
	logger *zap.Logger
}

// NewRedisSessionRepository 创建 Redis 会话仓库
func NewRedisSessionRepository(client *redis.Client, limit int, logger *zap.Logger) *RedisSessionRepository {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	return &RedisSessionRepository{
		client: client,
		limit:  int64(limit),
		logger: logger,
	}
}

func sessionsKey(deviceID string) string {
	return fmt.Sprintf("neuroguard:device:%s:sessions", deviceID)
}

// SaveSession 写入并裁剪到上限
func (r *RedisSessionRepository) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionsKey(record.DeviceID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved to Redis",
		zap.String("session_id", record.ID),
		zap.String("device_id", record.DeviceID),
	)
	return nil
}

// ListSessions 按时间倒序返回设备的会话
func (r *RedisSessionRepository) ListSessions(ctx context.Context, deviceID string) ([]models.SessionRecord, error) {
	raw, err := r.client.LRange(ctx, sessionsKey(deviceID), 0, r.limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]models.SessionRecord, 0, len(raw))
	for _, item := range raw {
		var s models.SessionRecord
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			r.logger.Warn("Skipping corrupt session entry", zap.String("device_id", deviceID), zap.Error(err))
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// GetSession 按 ID 查找
func (r *RedisSessionRepository) GetSession(ctx context.Context, deviceID, sessionID string) (*models.SessionRecord, error) {
	sessions, err := r.ListSessions(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == sessionID {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// ClearSessions 删除设备的全部会话
func (r *RedisSessionRepository) ClearSessions(ctx context.Context, deviceID string) error {
	if err := r.client.Del(ctx, sessionsKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}
