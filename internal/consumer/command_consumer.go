package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	rediscommon "github.com/smalok/NeuroGuard/common/redis"
	"github.com/smalok/NeuroGuard/internal/config"
	"go.uber.org/zap"
)

// 支持的控制命令
const (
	CommandConnect       = "connect"
	CommandDisconnect    = "disconnect"
	CommandStartScanning = "start_scanning"
	CommandStopScanning  = "stop_scanning"
	CommandAnalyzeNow    = "analyze_now"
	CommandFinishSession = "finish_session"
)

// Command 控制命令
type Command struct {
	ID       string
	Name     string
	DeviceID string
}

// CommandHandler 命令执行方
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) error
}

// CommandConsumer 从 Redis Streams 读取控制命令
type CommandConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	handler     CommandHandler
	logger      *zap.Logger

	batchSize int64
	block     time.Duration
}

// NewCommandConsumer 创建命令消费者
func NewCommandConsumer(cfg *config.Config, redisClient *redis.Client, handler CommandHandler, logger *zap.Logger) *CommandConsumer {
	return &CommandConsumer{
		config:      cfg,
		redisClient: redisClient,
		handler:     handler,
		logger:      logger,
		batchSize:   10,
		block:       time.Second,
	}
}

// Start 消费循环，ctx 取消时返回
func (c *CommandConsumer) Start(ctx context.Context) error {
	stream := c.config.Stream.Commands
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Stream.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Command consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", c.config.Stream.ConsumerGroup),
		zap.String("consumer_name", c.config.Stream.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume command stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 读取一批命令并逐条执行、确认
func (c *CommandConsumer) consumeOnce(ctx context.Context) error {
	stream := c.config.Stream.Commands
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, stream,
		c.config.Stream.ConsumerGroup, c.config.Stream.ConsumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	for _, msg := range messages {
		cmd := parseCommand(msg)
		if cmd.DeviceID != "" && cmd.DeviceID != c.config.Device.ID {
			c.logger.Debug("Ignoring command for another device",
				zap.String("message_id", msg.ID),
				zap.String("device_id", cmd.DeviceID),
			)
		} else if err := c.handler.HandleCommand(ctx, cmd); err != nil {
			c.logger.Error("Failed to handle command",
				zap.String("message_id", msg.ID),
				zap.String("command", cmd.Name),
				zap.Error(err),
			)
		}

		// 失败的命令也确认，避免重复执行
		if err := rediscommon.Ack(ctx, c.redisClient, stream, c.config.Stream.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack command", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return nil
}

// parseCommand 支持平铺字段（command / device_id）和 JSON data 字段两种格式
func parseCommand(msg rediscommon.StreamMessage) Command {
	cmd := Command{ID: msg.ID}
	if data, ok := msg.Values["data"].(string); ok {
		var payload struct {
			Command  string `json:"command"`
			DeviceID string `json:"device_id"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			cmd.Name = payload.Command
			cmd.DeviceID = payload.DeviceID
		}
	}
	if v, ok := msg.Values["command"].(string); ok {
		cmd.Name = v
	}
	if v, ok := msg.Values["device_id"].(string); ok {
		cmd.DeviceID = v
	}
	return cmd
}
