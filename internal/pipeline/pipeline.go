// Package pipeline 信号处理编排：环形缓冲、扫描开关、1 Hz tick、按需完整分析、会话汇总
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/smalok/NeuroGuard/internal/classifier"
	"github.com/smalok/NeuroGuard/internal/ecg"
	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/smalok/NeuroGuard/internal/vitals"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize     = 1000
	DefaultTickInterval   = time.Second
	DefaultSegmentSamples = 1000
)

// ErrNoSession 没有进行中的会话
var ErrNoSession = errors.New("pipeline: no active session")

// Predictor 分类器
type Predictor interface {
	Predict(ctx context.Context, features models.FeatureVector) (float64, error)
}

// VitalsSink 接收每次成功 tick 的结果
type VitalsSink interface {
	HandleVitals(ctx context.Context, snap models.VitalsSnapshot) error
}

// ReportSink 接收完整分析报告摘要
type ReportSink interface {
	HandleReport(ctx context.Context, deviceID string, summary models.ReportSummary) error
}

// SessionStore 会话持久化
type SessionStore interface {
	SaveSession(ctx context.Context, record *models.SessionRecord) error
}

// Config 编排参数
type Config struct {
	DeviceID       string
	BufferSize     int
	TickInterval   time.Duration
	SegmentSamples int
	Vitals         vitals.Params
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SegmentSamples <= 0 {
		c.SegmentSamples = DefaultSegmentSamples
	}
	if c.Vitals.MinSamples <= 0 {
		c.Vitals = vitals.DefaultParams()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type ecgEntry struct {
	value float64
	at    time.Time
}

type sessionAccumulator struct {
	active    bool
	startedAt time.Time
	ticks     int
	hrSum     float64
	hrvSum    float64
	emgSum    float64
}

func (s *sessionAccumulator) add(v models.Vitals) {
	s.ticks++
	s.hrSum += v.HeartRate
	s.hrvSum += v.HRV
	s.emgSum += v.EMGRMS
}

func (s *sessionAccumulator) avg(sum float64) float64 {
	if s.ticks == 0 {
		return 0
	}
	return math.Floor(sum/float64(s.ticks) + 0.5)
}

// Pipeline 单设备信号处理
type Pipeline struct {
	cfg       Config
	logger    *zap.Logger
	predictor Predictor
	store     SessionStore

	bufMu    sync.Mutex // 两个通道同步写入和快照
	ecgBuf   *RingBuffer[ecgEntry]
	emgBuf   *RingBuffer[float64]
	scanning atomic.Bool

	mu         sync.Mutex
	epoch      uint64 // 每次重置递增，丢弃重置前开始的 tick 结果
	vitals     models.Vitals
	prediction *models.BurnoutPrediction
	session    sessionAccumulator
	lastReport *ecg.Report

	sinkMu      sync.RWMutex
	vitalsSinks []VitalsSink
	reportSinks []ReportSink
}

// New 创建 Pipeline；predictor、store 可以为 nil
func New(cfg Config, predictor Predictor, store SessionStore, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		predictor: predictor,
		store:     store,
		ecgBuf:    NewRingBuffer[ecgEntry](cfg.BufferSize),
		emgBuf:    NewRingBuffer[float64](cfg.BufferSize),
	}
}

// AddVitalsSink 注册 tick 结果接收方
func (p *Pipeline) AddVitalsSink(s VitalsSink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.vitalsSinks = append(p.vitalsSinks, s)
}

// AddReportSink 注册报告接收方
func (p *Pipeline) AddReportSink(s ReportSink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.reportSinks = append(p.reportSinks, s)
}

// HandleSample 设备链路的采样订阅者；仅在扫描时写入缓冲
func (p *Pipeline) HandleSample(s models.Sample) error {
	if !p.scanning.Load() {
		return nil
	}
	p.bufMu.Lock()
	p.ecgBuf.Push(ecgEntry{value: s.ECG, at: s.Timestamp})
	p.emgBuf.Push(s.EMG)
	p.bufMu.Unlock()
	return nil
}

// HandleDisconnect 设备断开：清空缓冲、体征和报告，停止扫描
func (p *Pipeline) HandleDisconnect(cause error) {
	p.scanning.Store(false)
	p.bufMu.Lock()
	p.ecgBuf.Reset()
	p.emgBuf.Reset()
	p.bufMu.Unlock()

	p.mu.Lock()
	p.epoch++
	p.vitals = models.Vitals{}
	p.prediction = nil
	p.lastReport = nil
	p.mu.Unlock()

	p.logger.Info("Pipeline reset after device disconnect", zap.Error(cause))
}

// StartScanning 开始接收采样，必要时开启新会话
func (p *Pipeline) StartScanning() {
	p.mu.Lock()
	if !p.session.active {
		p.session = sessionAccumulator{active: true, startedAt: p.cfg.Now()}
	}
	p.mu.Unlock()

	if !p.scanning.Swap(true) {
		p.logger.Info("Scanning started", zap.String("device_id", p.cfg.DeviceID))
	}
}

// StopScanning 停止接收采样（缓冲保留）
func (p *Pipeline) StopScanning() {
	if p.scanning.Swap(false) {
		p.logger.Info("Scanning stopped", zap.String("device_id", p.cfg.DeviceID))
	}
}

// IsScanning 是否在扫描
func (p *Pipeline) IsScanning() bool {
	return p.scanning.Load()
}

// Vitals 最近一次体征
func (p *Pipeline) Vitals() models.Vitals {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vitals
}

// Prediction 最近一次倦怠评估
func (p *Pipeline) Prediction() (models.BurnoutPrediction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prediction == nil {
		return models.BurnoutPrediction{}, false
	}
	return *p.prediction, true
}

// LastReport 最近一次完整分析报告
func (p *Pipeline) LastReport() *ecg.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// Buffered 两个通道当前缓冲的采样数
func (p *Pipeline) Buffered() (ecgCount, emgCount int) {
	return p.ecgBuf.Len(), p.emgBuf.Len()
}

// Run 按 TickInterval 执行 tick，直到 ctx 取消
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.IsScanning() {
				p.Tick(ctx)
			}
		}
	}
}

// Tick 计算一次实时体征；数据不足时保留上次结果并返回 false
func (p *Pipeline) Tick(ctx context.Context) (models.VitalsSnapshot, bool) {
	p.mu.Lock()
	epoch := p.epoch
	prev := p.vitals
	pred := p.prediction
	p.mu.Unlock()

	entries, emg := p.snapshot()

	next, ok := vitals.Update(prev, toTimed(entries), emg, p.cfg.Vitals, p.cfg.Now())
	if !ok {
		p.logger.Debug("Tick skipped: insufficient ECG data", zap.Int("ecg_samples", len(entries)))
		return models.VitalsSnapshot{}, false
	}

	if p.predictor != nil {
		score, err := p.predictor.Predict(ctx, models.FeaturesFromVitals(next))
		if err != nil {
			p.logger.Warn("Classifier prediction failed", zap.Error(err))
		} else {
			bp := classifier.Burnout(score)
			pred = &bp
		}
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return models.VitalsSnapshot{}, false
	}
	p.vitals = next
	p.prediction = pred
	if p.session.active {
		p.session.add(next)
	}
	p.mu.Unlock()

	snap := models.VitalsSnapshot{
		DeviceID:  p.cfg.DeviceID,
		Vitals:    next,
		Timestamp: next.UpdatedAt,
	}
	if pred != nil {
		cp := *pred
		snap.Prediction = &cp
	}

	p.sinkMu.RLock()
	sinks := p.vitalsSinks
	p.sinkMu.RUnlock()
	for _, s := range sinks {
		if err := s.HandleVitals(ctx, snap); err != nil {
			p.logger.Warn("Vitals sink failed", zap.Error(err))
		}
	}

	return snap, true
}

// snapshot 同一时刻的 ECG 与 EMG 副本
func (p *Pipeline) snapshot() ([]ecgEntry, []float64) {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return p.ecgBuf.Snapshot(), p.emgBuf.Snapshot()
}

// CaptureSegment 复制最近 n 个原始 ECG 值
func (p *Pipeline) CaptureSegment(n int) []float64 {
	entries := p.ecgBuf.Last(n)
	raw := make([]float64, len(entries))
	for i, e := range entries {
		raw[i] = e.value
	}
	return raw
}

// AnalyzeSegment 对给定片段执行完整分析
func (p *Pipeline) AnalyzeSegment(raw []float64) (*ecg.Report, error) {
	report, err := ecg.GenerateReport(raw)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.lastReport = report
	p.mu.Unlock()
	return report, nil
}

// AnalyzeNow 截取最近 SegmentSamples 个采样做完整分析，并交给报告接收方
func (p *Pipeline) AnalyzeNow(ctx context.Context) (*ecg.Report, error) {
	raw := p.CaptureSegment(p.cfg.SegmentSamples)
	report, err := p.AnalyzeSegment(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze segment: %w", err)
	}

	summary := report.Summary(p.cfg.Now())
	p.logger.Info("ECG report generated",
		zap.String("device_id", p.cfg.DeviceID),
		zap.Int("samples", report.TotalSamples),
		zap.Int("r_peaks", len(report.RPeaks)),
		zap.Float64("hr_bpm", report.Intervals.HRBPM),
		zap.String("rhythm", string(report.Rhythm.Type)),
	)

	p.sinkMu.RLock()
	sinks := p.reportSinks
	p.sinkMu.RUnlock()
	for _, s := range sinks {
		if err := s.HandleReport(ctx, p.cfg.DeviceID, summary); err != nil {
			p.logger.Warn("Report sink failed", zap.Error(err))
		}
	}

	return report, nil
}

// FinishSession 结束当前会话：停止扫描、汇总并持久化
func (p *Pipeline) FinishSession(ctx context.Context) (*models.SessionRecord, error) {
	p.StopScanning()

	p.mu.Lock()
	s := p.session
	p.session = sessionAccumulator{}
	pred := p.prediction
	lastReport := p.lastReport
	// 报告只归属于本次会话
	p.lastReport = nil
	p.mu.Unlock()

	if !s.active {
		return nil, ErrNoSession
	}

	now := p.cfg.Now()
	raw := p.CaptureSegment(p.cfg.SegmentSamples)

	record := &models.SessionRecord{
		ID:             uuid.New().String(),
		DeviceID:       p.cfg.DeviceID,
		StartedAt:      s.startedAt,
		DurationSec:    int(math.Floor(now.Sub(s.startedAt).Seconds() + 0.5)),
		AvgHR:          s.avg(s.hrSum),
		AvgHRV:         s.avg(s.hrvSum),
		AvgEMGRMS:      s.avg(s.emgSum),
		Classification: models.BurnoutNormal,
		RawECG:         raw,
	}
	if pred != nil {
		record.BurnoutScore = pred.Score
		record.Classification = pred.Classification
	}

	report := lastReport
	if report == nil && len(raw) >= ecg.SampleRate {
		if r, err := ecg.GenerateReport(raw); err == nil {
			report = r
		}
	}
	if report != nil {
		summary := report.Summary(now)
		record.Report = &summary
	}

	p.logger.Info("Session finished",
		zap.String("session_id", record.ID),
		zap.String("device_id", record.DeviceID),
		zap.Int("duration_sec", record.DurationSec),
		zap.Int("ticks", s.ticks),
	)

	if p.store != nil {
		if err := p.store.SaveSession(ctx, record); err != nil {
			return record, fmt.Errorf("failed to save session: %w", err)
		}
	}
	return record, nil
}

func toTimed(entries []ecgEntry) []vitals.TimedValue {
	out := make([]vitals.TimedValue, len(entries))
	if len(entries) == 0 {
		return out
	}
	first := entries[0].at
	for i, e := range entries {
		out[i] = vitals.TimedValue{
			Value:  e.value,
			TimeMs: float64(e.at.Sub(first)) / float64(time.Millisecond),
		}
	}
	return out
}
