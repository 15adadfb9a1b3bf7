package models

import "time"

// Sample 设备上报的一条双通道采样（ECG + EMG）
// Timestamp 使用 time.Now()，带单调时钟读数
type Sample struct {
	ECG       float64   `json:"ecg"`
	EMG       float64   `json:"emg"`
	Timestamp time.Time `json:"timestamp"`
}

// Vitals 实时体征（每个 tick 覆盖一次，不保留历史）
type Vitals struct {
	HeartRate   float64   `json:"heart_rate"`   // BPM
	HRV         float64   `json:"hrv"`          // ms，取 RMSSD
	RMSSD       float64   `json:"rmssd"`        // ms
	SDNN        float64   `json:"sdnn"`         // ms，RMSSD 近似
	LFHFRatio   float64   `json:"lf_hf_ratio"`  // 固定占位值
	EMGRMS      float64   `json:"emg_rms"`      // µV
	EMGMAV      float64   `json:"emg_mav"`      // µV，RMS 近似
	EMGVariance float64   `json:"emg_variance"` // RMS²
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasSignal 是否已有任何有效体征
func (v Vitals) HasSignal() bool {
	return v.HeartRate > 0 || v.EMGRMS > 0
}

// FeatureVector 分类器输入特征（顺序固定：hr, hrv, rmssd, sdnn, lf_hf, emg_rms）
type FeatureVector struct {
	HR     float64 `json:"hr"`
	HRV    float64 `json:"hrv"`
	RMSSD  float64 `json:"rmssd"`
	SDNN   float64 `json:"sdnn"`
	LFHF   float64 `json:"lf_hf"`
	EMGRMS float64 `json:"emg_rms"`
}

// Slice 按固定顺序返回 6 维特征
func (f FeatureVector) Slice() []float64 {
	return []float64{f.HR, f.HRV, f.RMSSD, f.SDNN, f.LFHF, f.EMGRMS}
}

// FeaturesFromVitals 由实时体征构建特征向量
func FeaturesFromVitals(v Vitals) FeatureVector {
	return FeatureVector{
		HR:     v.HeartRate,
		HRV:    v.HRV,
		RMSSD:  v.RMSSD,
		SDNN:   v.SDNN,
		LFHF:   v.LFHFRatio,
		EMGRMS: v.EMGRMS,
	}
}

// 倦怠分类
const (
	BurnoutNormal     = "normal"
	BurnoutHighStress = "high_stress"
	BurnoutRisk       = "burnout_risk"
)

// BurnoutPrediction 倦怠评估结果
type BurnoutPrediction struct {
	Score          int     `json:"score"` // 0-100
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
}

// VitalsSnapshot 一次成功 tick 的结果（交给下游 sink）
type VitalsSnapshot struct {
	DeviceID   string             `json:"device_id"`
	Vitals     Vitals             `json:"vitals"`
	Prediction *BurnoutPrediction `json:"prediction,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// DeviceStatus 设备链路状态（写入实时缓存）
type DeviceStatus struct {
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Scanning  bool      `json:"scanning"`
	Lines     uint64    `json:"lines"`
	Samples   uint64    `json:"samples"`
	Dropped   uint64    `json:"dropped"`
	UpdatedAt time.Time `json:"updated_at"`
}
