// Package vitals 1 Hz 实时特征计算（纯函数）
//
// 与 ecg 包的完整分析不同，这里只做廉价近似：
// 阈值峰值检测 → RR → HR / RMSSD；EMG 取 RMS 并由 RMS 推算 MAV 与方差。
package vitals

import (
	"math"
	"time"

	"github.com/smalok/NeuroGuard/internal/models"
)

const (
	// DefaultMinSamples 每个通道至少需要的采样数
	DefaultMinSamples = 50
	// DefaultThresholdFactor 峰值阈值 = 均值 × 1.2
	DefaultThresholdFactor = 1.2
	// DefaultRefractoryMs 峰值去抖间隔
	DefaultRefractoryMs = 200.0

	// SDNN 由 RMSSD 近似
	sdnnFromRMSSD = 1.1
	// LF/HF 未做频域分析，固定占位值
	lfHFPlaceholder = 1.5
	// MAV 由 RMS 近似
	mavFromRMS = 0.9
)

// TimedValue ECG 缓冲中的一个采样，TimeMs 为相对快照首个采样的毫秒数
type TimedValue struct {
	Value  float64 `json:"value"`
	TimeMs float64 `json:"time_ms"`
}

// Params 实时特征参数
type Params struct {
	MinSamples      int
	ThresholdFactor float64
	RefractoryMs    float64
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		MinSamples:      DefaultMinSamples,
		ThresholdFactor: DefaultThresholdFactor,
		RefractoryMs:    DefaultRefractoryMs,
	}
}

// ECGFeatures ECG 实时特征（已取整）
type ECGFeatures struct {
	HeartRate   float64
	HRV         float64
	RMSSD       float64
	SDNN        float64
	LFHFRatio   float64
	PeakCount   int
	RRIntervals []float64
}

// EMGFeatures EMG 实时特征（已取整）
type EMGFeatures struct {
	RMS      float64
	MAV      float64
	Variance float64
}

// ComputeECG 阈值峰值检测 + RR 统计
// 采样不足或没有任何 RR 间期时返回 ok=false
func ComputeECG(samples []TimedValue, p Params) (ECGFeatures, bool) {
	if len(samples) < p.MinSamples || len(samples) < 3 {
		return ECGFeatures{}, false
	}

	mean := 0.0
	for _, s := range samples {
		mean += s.Value
	}
	mean /= float64(len(samples))
	threshold := mean * p.ThresholdFactor

	peaks := 0
	lastPeak := math.Inf(-1)
	var rr []float64
	for i := 1; i < len(samples)-1; i++ {
		v := samples[i].Value
		if v <= threshold || v <= samples[i-1].Value || v <= samples[i+1].Value {
			continue
		}
		t := samples[i].TimeMs
		if t-lastPeak <= p.RefractoryMs {
			continue
		}
		if peaks > 0 {
			rr = append(rr, t-lastPeak)
		}
		lastPeak = t
		peaks++
	}

	if len(rr) == 0 {
		return ECGFeatures{PeakCount: peaks}, false
	}

	sum := 0.0
	for _, v := range rr {
		sum += v
	}
	hr := 60000 / (sum / float64(len(rr)))

	rmssd := 0.0
	if len(rr) > 1 {
		sq := 0.0
		for i := 1; i < len(rr); i++ {
			d := rr[i] - rr[i-1]
			sq += d * d
		}
		rmssd = math.Sqrt(sq / float64(len(rr)-1))
	}

	return ECGFeatures{
		HeartRate:   roundHalfUp(hr),
		HRV:         roundHalfUp(rmssd),
		RMSSD:       roundHalfUp(rmssd),
		SDNN:        roundHalfUp(rmssd * sdnnFromRMSSD),
		LFHFRatio:   lfHFPlaceholder,
		PeakCount:   peaks,
		RRIntervals: rr,
	}, true
}

// ComputeEMG EMG 窗口 RMS，MAV 与方差为近似值
func ComputeEMG(values []float64, minSamples int) (EMGFeatures, bool) {
	if len(values) == 0 || len(values) < minSamples {
		return EMGFeatures{}, false
	}

	sq := 0.0
	for _, v := range values {
		sq += v * v
	}
	rms := math.Sqrt(sq / float64(len(values)))

	return EMGFeatures{
		RMS:      roundHalfUp(rms),
		MAV:      roundHalfUp(rms * mavFromRMS),
		Variance: roundHalfUp(rms * rms),
	}, true
}

// Update 用一次快照计算新的 Vitals
// ECG 不可用时整次计算跳过，返回 prev 与 false；EMG 采样不足时保留 prev 中的 EMG 字段
func Update(prev models.Vitals, ecg []TimedValue, emg []float64, p Params, now time.Time) (models.Vitals, bool) {
	ef, ok := ComputeECG(ecg, p)
	if !ok {
		return prev, false
	}

	next := prev
	next.HeartRate = ef.HeartRate
	next.HRV = ef.HRV
	next.RMSSD = ef.RMSSD
	next.SDNN = ef.SDNN
	next.LFHFRatio = ef.LFHFRatio

	if mf, ok := ComputeEMG(emg, p.MinSamples); ok {
		next.EMGRMS = mf.RMS
		next.EMGMAV = mf.MAV
		next.EMGVariance = mf.Variance
	}

	next.UpdatedAt = now
	return next, true
}

func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}
