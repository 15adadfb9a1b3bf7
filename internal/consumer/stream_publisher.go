package consumer

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	rediscommon "github.com/smalok/NeuroGuard/common/redis"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// ReportEvent 报告摘要事件
type ReportEvent struct {
	DeviceID string               `json:"device_id"`
	Report   models.ReportSummary `json:"report"`
}

// StreamPublisher 把体征、报告和告警发布到 Redis Streams，供下游服务消费
type StreamPublisher struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStreamPublisher 创建 Streams 发布器
func NewStreamPublisher(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// HandleVitals 发布体征
func (p *StreamPublisher) HandleVitals(ctx context.Context, snap models.VitalsSnapshot) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.config.Stream.Vitals, p.config.Stream.MaxLen, snap); err != nil {
		return fmt.Errorf("failed to publish vitals: %w", err)
	}
	return nil
}

// HandleReport 发布报告摘要
func (p *StreamPublisher) HandleReport(ctx context.Context, deviceID string, summary models.ReportSummary) error {
	event := ReportEvent{DeviceID: deviceID, Report: summary}
	id, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.config.Stream.Reports, p.config.Stream.MaxLen, event)
	if err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}

	p.logger.Debug("Published report summary",
		zap.String("stream", p.config.Stream.Reports),
		zap.String("message_id", id),
		zap.String("device_id", deviceID),
	)
	return nil
}

// HandleAlert 发布告警
func (p *StreamPublisher) HandleAlert(ctx context.Context, alert *models.Alert) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.config.Stream.Alerts, p.config.Stream.MaxLen, alert); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
