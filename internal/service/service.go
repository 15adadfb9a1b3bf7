// Package service 组装设备链路、信号处理和各下游组件，负责启停与重连
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/common/database"
	logpkg "github.com/smalok/NeuroGuard/common/logger"
	mqttcommon "github.com/smalok/NeuroGuard/common/mqtt"
	rediscommon "github.com/smalok/NeuroGuard/common/redis"
	"github.com/smalok/NeuroGuard/internal/classifier"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/consumer"
	"github.com/smalok/NeuroGuard/internal/devicelink"
	"github.com/smalok/NeuroGuard/internal/ecg"
	"github.com/smalok/NeuroGuard/internal/evaluator"
	"github.com/smalok/NeuroGuard/internal/export"
	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/smalok/NeuroGuard/internal/pipeline"
	"github.com/smalok/NeuroGuard/internal/repository"
	"github.com/smalok/NeuroGuard/internal/vitals"
	"go.uber.org/zap"
)

// ErrNotConnected 设备未连接
var ErrNotConnected = errors.New("service: device not connected")

// ErrNoStorage 未配置会话存储
var ErrNoStorage = errors.New("service: session storage disabled")

// Dependencies 外部连接；为 nil 的项对应组件不启用
type Dependencies struct {
	Redis     *redis.Client
	DB        *sql.DB
	MQTT      *mqttcommon.Client
	Opener    devicelink.Opener
	Predictor pipeline.Predictor
}

// SignalService NeuroGuard 信号服务
type SignalService struct {
	config *config.Config
	logger *zap.Logger
	deps   Dependencies

	link     *devicelink.Link
	pipeline *pipeline.Pipeline
	cache    *consumer.CacheManager
	eval     *evaluator.Evaluator
	commands *consumer.CommandConsumer
	sessions repository.SessionRepository
	alerts   *repository.RedisAlertRepository

	runCtx       context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	reconnecting atomic.Bool
	mu           sync.Mutex
}

// NewSignalService 建立外部连接并组装服务
func NewSignalService(cfg *config.Config, logger *zap.Logger) (*SignalService, error) {
	deps := Dependencies{}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Redis = redisClient

	if cfg.Storage.Backend == config.StoragePostgres {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		deps.DB = db
	}

	if cfg.UsesMQTT() {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logpkg.Component(logger, "mqtt"))
		if err != nil {
			closeDeps(deps, logger)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		deps.MQTT = mqttClient
	}

	switch cfg.Device.Transport {
	case config.TransportMQTT:
		deps.Opener = devicelink.NewMQTTOpener(deps.MQTT, cfg.Device.RawTopic, cfg.MQTT.QoS, logpkg.Component(logger, "mqtt_opener"))
	default:
		deps.Opener = devicelink.NewSerialOpener(cfg.Serial.PortName, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout, logpkg.Component(logger, "serial"))
	}

	if cfg.Classifier.URL != "" {
		deps.Predictor = classifier.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout, logpkg.Component(logger, "classifier"))
	} else {
		deps.Predictor = classifier.NopClassifier{}
	}

	svc, err := New(cfg, deps, logger)
	if err != nil {
		closeDeps(deps, logger)
		return nil, err
	}
	return svc, nil
}

// New 用已建立的连接组装服务
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*SignalService, error) {
	if deps.Opener == nil {
		return nil, fmt.Errorf("service: opener is required")
	}

	s := &SignalService{
		config: cfg,
		logger: logger,
		deps:   deps,
	}

	switch cfg.Storage.Backend {
	case config.StorageRedis:
		if deps.Redis != nil {
			s.sessions = repository.NewRedisSessionRepository(deps.Redis, cfg.Storage.SessionLimit, logpkg.Component(logger, "sessions"))
		}
	case config.StoragePostgres:
		if deps.DB != nil {
			repo := repository.NewPostgresSessionRepository(deps.DB, cfg.Storage.SessionLimit, logpkg.Component(logger, "sessions"))
			if err := repo.EnsureSchema(context.Background()); err != nil {
				return nil, fmt.Errorf("failed to ensure session schema: %w", err)
			}
			s.sessions = repo
		}
	}

	var store pipeline.SessionStore
	if s.sessions != nil {
		store = s.sessions
	}

	s.pipeline = pipeline.New(pipeline.Config{
		DeviceID:       cfg.Device.ID,
		BufferSize:     cfg.Pipeline.BufferSize,
		TickInterval:   cfg.Pipeline.TickInterval,
		SegmentSamples: cfg.Pipeline.SegmentSamples,
		Vitals: vitals.Params{
			MinSamples:      cfg.Pipeline.MinSamples,
			ThresholdFactor: cfg.Pipeline.ThresholdFactor,
			RefractoryMs:    cfg.Pipeline.RefractoryMs,
		},
	}, deps.Predictor, store, logpkg.Component(logger, "pipeline"))

	s.link = devicelink.NewLink(deps.Opener, devicelink.Options{
		MaxLineBytes: cfg.Serial.MaxLineBytes,
	}, logpkg.Component(logger, "devicelink"))
	s.link.Subscribe(s.pipeline.HandleSample)
	s.link.OnDisconnect(s.handleDisconnect)

	var alertSinks []evaluator.AlertSink
	if deps.Redis != nil {
		s.cache = consumer.NewCacheManager(cfg, deps.Redis, logpkg.Component(logger, "cache"))
		s.pipeline.AddVitalsSink(s.cache)

		s.alerts = repository.NewRedisAlertRepository(deps.Redis, cfg.Storage.AlertLimit, logpkg.Component(logger, "alerts"))
		alertSinks = append(alertSinks, s.alerts)

		if cfg.Stream.Enabled {
			publisher := consumer.NewStreamPublisher(cfg, deps.Redis, logpkg.Component(logger, "stream"))
			s.pipeline.AddVitalsSink(publisher)
			s.pipeline.AddReportSink(publisher)
			alertSinks = append(alertSinks, publisher)

			s.commands = consumer.NewCommandConsumer(cfg, deps.Redis, s, logpkg.Component(logger, "commands"))
		}
	}

	if cfg.Publish.MQTTEnabled && deps.MQTT != nil {
		s.pipeline.AddVitalsSink(consumer.NewMQTTPublisher(deps.MQTT, cfg.VitalsTopic(), cfg.MQTT.QoS, logpkg.Component(logger, "mqtt_publisher")))
	}

	if cfg.Alert.Enabled {
		s.eval = evaluator.NewEvaluator(cfg, deps.Redis, logpkg.Component(logger, "evaluator"), alertSinks...)
		s.pipeline.AddVitalsSink(s.eval)
	}

	return s, nil
}

// Pipeline 信号处理实例
func (s *SignalService) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Link 设备链路实例
func (s *SignalService) Link() *devicelink.Link {
	return s.link
}

// Start 启动 tick 循环、命令消费，并连接设备
func (s *SignalService) Start(ctx context.Context) error {
	s.logger.Info("Starting signal service components",
		zap.String("device_id", s.config.Device.ID),
		zap.String("transport", s.config.Device.Transport),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pipeline.Run(runCtx); err != nil {
			s.logger.Error("Pipeline loop exited", zap.Error(err))
		}
	}()

	if s.commands != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.commands.Start(runCtx); err != nil {
				s.logger.Error("Command consumer exited", zap.Error(err))
			}
		}()
	}

	if err := s.Connect(runCtx); err != nil {
		if !s.config.Device.AutoReconnect {
			cancel()
			s.wg.Wait()
			return fmt.Errorf("failed to connect device: %w", err)
		}
		s.logger.Warn("Initial device connect failed, retrying in background", zap.Error(err))
		s.scheduleReconnect()
	}

	s.logger.Info("Signal service started successfully")
	return nil
}

// Stop 断开设备、结束后台循环并释放连接
func (s *SignalService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping signal service")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := s.link.Disconnect(ctx); err != nil {
		s.logger.Warn("Device disconnect did not complete", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for background loops", zap.Error(ctx.Err()))
	}

	s.updateStatus(ctx)
	closeDeps(s.deps, s.logger)

	s.logger.Info("Signal service stopped")
	return nil
}

// Connect 连接设备；连接成功且配置了自动扫描时开始扫描
func (s *SignalService) Connect(ctx context.Context) error {
	if err := s.link.Connect(ctx); err != nil {
		s.updateStatus(ctx)
		return err
	}
	if s.config.Pipeline.AutoScan {
		s.pipeline.StartScanning()
	}
	s.updateStatus(ctx)
	return nil
}

// Disconnect 主动断开设备（不触发重连）
// 先重置信号处理和实时缓存，再等待传输层清理
func (s *SignalService) Disconnect(ctx context.Context) error {
	s.pipeline.HandleDisconnect(nil)
	s.clearRealtime(ctx)
	err := s.link.Disconnect(ctx)
	s.updateStatus(ctx)
	return err
}

// StartScanning 开始扫描
func (s *SignalService) StartScanning(ctx context.Context) error {
	if !s.link.IsConnected() {
		return ErrNotConnected
	}
	s.pipeline.StartScanning()
	s.updateStatus(ctx)
	return nil
}

// StopScanning 停止扫描
func (s *SignalService) StopScanning(ctx context.Context) {
	s.pipeline.StopScanning()
	s.updateStatus(ctx)
}

// AnalyzeNow 对最近的 ECG 片段做完整分析
func (s *SignalService) AnalyzeNow(ctx context.Context) (*ecg.Report, error) {
	return s.pipeline.AnalyzeNow(ctx)
}

// FinishSession 结束会话并持久化
func (s *SignalService) FinishSession(ctx context.Context) (*models.SessionRecord, error) {
	record, err := s.pipeline.FinishSession(ctx)
	s.updateStatus(ctx)
	return record, err
}

// Sessions 已保存的会话（最新在前）
func (s *SignalService) Sessions(ctx context.Context) ([]models.SessionRecord, error) {
	if s.sessions == nil {
		return nil, ErrNoStorage
	}
	return s.sessions.ListSessions(ctx, s.config.Device.ID)
}

// ExportSessions 把会话和告警历史写入 .xlsx
func (s *SignalService) ExportSessions(ctx context.Context, path string) (int, error) {
	sessions, err := s.Sessions(ctx)
	if err != nil {
		return 0, err
	}

	var alerts []models.Alert
	if s.alerts != nil {
		alerts, err = s.alerts.ListAlerts(ctx, s.config.Device.ID)
		if err != nil {
			s.logger.Warn("Failed to load alert history for export", zap.Error(err))
		}
	}

	if err := export.WriteFile(path, sessions, alerts); err != nil {
		return 0, err
	}
	s.logger.Info("Sessions exported",
		zap.String("path", path),
		zap.Int("sessions", len(sessions)),
		zap.Int("alerts", len(alerts)),
	)
	return len(sessions), nil
}

// HandleCommand 执行 Redis Streams 控制命令
func (s *SignalService) HandleCommand(ctx context.Context, cmd consumer.Command) error {
	s.logger.Info("Handling command", zap.String("command", cmd.Name), zap.String("message_id", cmd.ID))

	switch cmd.Name {
	case consumer.CommandConnect:
		return s.Connect(ctx)
	case consumer.CommandDisconnect:
		return s.Disconnect(ctx)
	case consumer.CommandStartScanning:
		return s.StartScanning(ctx)
	case consumer.CommandStopScanning:
		s.StopScanning(ctx)
		return nil
	case consumer.CommandAnalyzeNow:
		_, err := s.AnalyzeNow(ctx)
		return err
	case consumer.CommandFinishSession:
		_, err := s.FinishSession(ctx)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// handleDisconnect 设备强制断开：重置信号处理，按配置重连
func (s *SignalService) handleDisconnect(cause error) {
	s.logger.Warn("Device disconnected", zap.String("device_id", s.config.Device.ID), zap.Error(cause))

	ctx := s.context()
	s.pipeline.HandleDisconnect(cause)
	s.clearRealtime(ctx)
	s.updateStatus(ctx)

	if s.config.Device.AutoReconnect && ctx.Err() == nil {
		s.scheduleReconnect()
	}
}

// scheduleReconnect 后台指数退避重连，同一时间只有一个重连循环
func (s *SignalService) scheduleReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx := s.context()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reconnecting.Store(false)

		backoff := s.config.Device.ReconnectBackoff
		if backoff <= 0 {
			backoff = time.Second
		}
		maxBackoff := s.config.Device.ReconnectMaxBackoff
		if maxBackoff < backoff {
			maxBackoff = backoff
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			err := s.Connect(ctx)
			if err == nil || (errors.Is(err, devicelink.ErrAlreadyActive) && s.link.IsConnected()) {
				s.logger.Info("Device reconnected", zap.String("device_id", s.config.Device.ID))
				return
			}
			s.logger.Warn("Device reconnect failed",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

func (s *SignalService) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *SignalService) clearRealtime(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ClearRealtime(ctx, s.config.Device.ID); err != nil {
		s.logger.Warn("Failed to clear realtime cache", zap.Error(err))
	}
}

// Status 当前链路状态
func (s *SignalService) Status() models.DeviceStatus {
	lines, samples, dropped := s.link.Stats()
	return models.DeviceStatus{
		DeviceID:  s.config.Device.ID,
		State:     s.link.State().String(),
		Connected: s.link.IsConnected(),
		Scanning:  s.pipeline.IsScanning(),
		Lines:     lines,
		Samples:   samples,
		Dropped:   dropped,
		UpdatedAt: time.Now(),
	}
}

func (s *SignalService) updateStatus(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := s.cache.UpdateDeviceStatus(ctx, s.Status()); err != nil {
		s.logger.Warn("Failed to update device status", zap.Error(err))
	}
}

func closeDeps(deps Dependencies, logger *zap.Logger) {
	if deps.MQTT != nil {
		deps.MQTT.Disconnect()
	}
	if deps.Redis != nil {
		if err := rediscommon.Close(deps.Redis); err != nil {
			logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if deps.DB != nil {
		if err := database.Close(deps.DB); err != nil {
			logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
