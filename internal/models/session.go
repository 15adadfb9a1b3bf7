package models

import "time"

// ReportSummary ECG 报告摘要（存储和发布用，不含波形）
type ReportSummary struct {
	GeneratedAt    time.Time `json:"generated_at"`
	DurationSec    float64   `json:"duration_sec"`
	RPeakCount     int       `json:"r_peak_count"`
	HRBPM          float64   `json:"hr_bpm"`
	MeanRR         float64   `json:"mean_rr"`
	SDRR           float64   `json:"sd_rr"`
	PRInterval     float64   `json:"pr_interval"`
	QRSDuration    float64   `json:"qrs_duration"`
	QTcInterval    float64   `json:"qtc_interval"`
	Rhythm         string    `json:"rhythm"`
	STDeviationMv  float64   `json:"st_deviation_mv"`
	STClass        string    `json:"st_class"`
	Interpretation []string  `json:"interpretation"`
}

// SessionRecord 一次扫描会话的汇总记录（交给持久化协作方）
type SessionRecord struct {
	ID             string         `json:"id"`
	DeviceID       string         `json:"device_id"`
	StartedAt      time.Time      `json:"started_at"`
	DurationSec    int            `json:"duration_sec"`
	AvgHR          float64        `json:"avg_hr"`
	AvgHRV         float64        `json:"avg_hrv"`
	AvgEMGRMS      float64        `json:"avg_emg_rms"`
	BurnoutScore   int            `json:"burnout_score"`
	Classification string         `json:"classification"`
	RawECG         []float64      `json:"raw_ecg,omitempty"`
	Report         *ReportSummary `json:"report,omitempty"`
}

// HasRawECG 是否携带原始 ECG 片段
func (s *SessionRecord) HasRawECG() bool {
	return len(s.RawECG) > 0
}

// 报警级别
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert 阈值报警事件
type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"` // ECG / EMG / ML / Device
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
