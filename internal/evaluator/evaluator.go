// Package evaluator 体征阈值报警评估
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// 报警规则
const (
	RuleHRHigh      = "hr_high"
	RuleHRVLow      = "hrv_low"
	RuleBurnoutHigh = "burnout_high"
	RuleEMGHigh     = "emg_high"
)

// 报警来源
const (
	SourceECG = "ECG"
	SourceEMG = "EMG"
	SourceML  = "ML"
)

// AlertSink 接收报警事件
type AlertSink interface {
	HandleAlert(ctx context.Context, alert *models.Alert) error
}

// Thresholds 报警阈值
type Thresholds struct {
	HRHigh      float64
	HRVLow      float64
	BurnoutHigh float64
	EMGHigh     float64
}

// Evaluator 对每次 tick 结果做阈值判断（实现 pipeline.VitalsSink）
type Evaluator struct {
	thresholds  Thresholds
	cooldown    time.Duration
	keyPrefix   string
	redisClient *redis.Client
	sinks       []AlertSink
	logger      *zap.Logger
	now         func() time.Time
}

// NewEvaluator 创建评估器；redisClient 为 nil 时不做冷却去重
func NewEvaluator(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger, sinks ...AlertSink) *Evaluator {
	return &Evaluator{
		thresholds: Thresholds{
			HRHigh:      cfg.Alert.HRHigh,
			HRVLow:      cfg.Alert.HRVLow,
			BurnoutHigh: cfg.Alert.BurnoutHigh,
			EMGHigh:     cfg.Alert.EMGHigh,
		},
		cooldown:    cfg.Alert.Cooldown,
		keyPrefix:   cfg.Alert.StateKeyPrefix,
		redisClient: redisClient,
		sinks:       sinks,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate 返回本次体征触发的报警（不含冷却判断）
func (e *Evaluator) Evaluate(snap models.VitalsSnapshot) []models.Alert {
	var alerts []models.Alert
	v := snap.Vitals
	t := e.thresholds

	if t.HRHigh > 0 && v.HeartRate > t.HRHigh {
		alerts = append(alerts, e.build(snap, models.SeverityWarning, SourceECG, RuleHRHigh,
			fmt.Sprintf("Heart rate %.0f BPM above %.0f", v.HeartRate, t.HRHigh), v.HeartRate, t.HRHigh))
	}

	// HRV 为 0 表示尚无 RR 间期，不报警
	if t.HRVLow > 0 && v.HRV > 0 && v.HRV < t.HRVLow {
		alerts = append(alerts, e.build(snap, models.SeverityWarning, SourceECG, RuleHRVLow,
			fmt.Sprintf("HRV %.0f ms below %.0f", v.HRV, t.HRVLow), v.HRV, t.HRVLow))
	}

	if snap.Prediction != nil && t.BurnoutHigh > 0 && float64(snap.Prediction.Score) > t.BurnoutHigh {
		score := float64(snap.Prediction.Score)
		alerts = append(alerts, e.build(snap, models.SeverityCritical, SourceML, RuleBurnoutHigh,
			fmt.Sprintf("Burnout score %d above %.0f", snap.Prediction.Score, t.BurnoutHigh), score, t.BurnoutHigh))
	}

	if t.EMGHigh > 0 && v.EMGRMS > t.EMGHigh {
		alerts = append(alerts, e.build(snap, models.SeverityInfo, SourceEMG, RuleEMGHigh,
			fmt.Sprintf("EMG RMS %.1f µV above %.0f", v.EMGRMS, t.EMGHigh), v.EMGRMS, t.EMGHigh))
	}

	return alerts
}

func (e *Evaluator) build(snap models.VitalsSnapshot, severity, source, rule, msg string, value, threshold float64) models.Alert {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	return models.Alert{
		ID:        uuid.New().String(),
		DeviceID:  snap.DeviceID,
		Severity:  severity,
		Source:    source,
		Rule:      rule,
		Message:   msg,
		Value:     value,
		Threshold: threshold,
		Timestamp: ts,
	}
}

// HandleVitals 评估并分发报警，同一设备同一规则在冷却期内只报一次
func (e *Evaluator) HandleVitals(ctx context.Context, snap models.VitalsSnapshot) error {
	for _, alert := range e.Evaluate(snap) {
		alert := alert

		fire, err := e.acquire(ctx, alert.DeviceID, alert.Rule)
		if err != nil {
			e.logger.Warn("Failed to check alert cooldown, emitting anyway",
				zap.String("rule", alert.Rule),
				zap.Error(err),
			)
		} else if !fire {
			continue
		}

		e.logger.Info("Alert triggered",
			zap.String("device_id", alert.DeviceID),
			zap.String("rule", alert.Rule),
			zap.String("severity", alert.Severity),
			zap.Float64("value", alert.Value),
			zap.Float64("threshold", alert.Threshold),
		)

		for _, sink := range e.sinks {
			if err := sink.HandleAlert(ctx, &alert); err != nil {
				e.logger.Error("Failed to deliver alert",
					zap.String("alert_id", alert.ID),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// StateKey 冷却状态键
func (e *Evaluator) StateKey(deviceID, rule string) string {
	return fmt.Sprintf("%s%s:%s", e.keyPrefix, deviceID, rule)
}

// acquire SETNX + TTL，返回 true 表示本次可以报警
func (e *Evaluator) acquire(ctx context.Context, deviceID, rule string) (bool, error) {
	if e.redisClient == nil || e.cooldown <= 0 {
		return true, nil
	}
	ok, err := e.redisClient.SetNX(ctx, e.StateKey(deviceID, rule), e.now().Unix(), e.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set alert state: %w", err)
	}
	return ok, nil
}

// ResetCooldown 清除设备全部规则的冷却状态
func (e *Evaluator) ResetCooldown(ctx context.Context, deviceID string) error {
	if e.redisClient == nil {
		return nil
	}
	keys := make([]string, 0, 4)
	for _, rule := range []string{RuleHRHigh, RuleHRVLow, RuleBurnoutHigh, RuleEMGHigh} {
		keys = append(keys, e.StateKey(deviceID, rule))
	}
	if err := e.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset alert state: %w", err)
	}
	return nil
}
