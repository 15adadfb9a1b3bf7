package ecg

import (
	"errors"
	"fmt"
	"time"

	"github.com/smalok/NeuroGuard/internal/models"
)

// ErrInsufficientSamples 分析窗口不足 1 秒
var ErrInsufficientSamples = errors.New("ecg: need at least 100 samples for analysis")

// LeadConfig 设备导联配置
const LeadConfig = "Lead I (3-electrode: RA, LA, RL-ground)"

var limitations = []string{
	"This is a single-lead (Lead I) recording from a 3-electrode configuration.",
	"A full 12-lead ECG is required for comprehensive cardiac assessment.",
	"Axis deviation, chamber enlargement, and regional ischemia cannot be reliably assessed from a single lead.",
	"This recording is intended for screening purposes only and should not replace clinical evaluation.",
	"Signal quality may be affected by electrode placement, movement artifacts, and electromagnetic interference.",
}

// Report 一次完整分析的结果，生成后不再修改
type Report struct {
	SampleRate     int            `json:"sample_rate"`
	DurationSec    float64        `json:"duration_sec"`
	TotalSamples   int            `json:"total_samples"`
	LeadConfig     string         `json:"lead_config"`
	SignalMv       []float64      `json:"signal_mv"`
	FilteredSignal []float64      `json:"filtered_signal"`
	RPeaks         []RPeak        `json:"r_peaks"`
	Intervals      Intervals      `json:"intervals"`
	Rhythm         RhythmAnalysis `json:"rhythm"`
	STSegment      STAssessment   `json:"st_segment"`
	Interpretation []string       `json:"interpretation"`
	Limitations    []string       `json:"limitations"`
}

// GenerateReport 对原始 ADC 采样执行完整分析
func GenerateReport(raw []float64) (*Report, error) {
	if len(raw) < SampleRate {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientSamples, len(raw))
	}

	signalMv := AdcToMillivolts(raw)
	filtered := RemoveBaselineWander(signalMv, BaselineWindow)
	peaks := DetectRPeaks(filtered)
	intervals := CalculateIntervals(peaks, filtered)
	rhythm := AssessRhythm(intervals, peaks, filtered)
	st := AssessSTSegment(peaks, filtered)

	return &Report{
		SampleRate:     SampleRate,
		DurationSec:    roundHalfUp(float64(len(raw))/SampleRate*10) / 10,
		TotalSamples:   len(raw),
		LeadConfig:     LeadConfig,
		SignalMv:       signalMv,
		FilteredSignal: filtered,
		RPeaks:         peaks,
		Intervals:      intervals,
		Rhythm:         rhythm,
		STSegment:      st,
		Interpretation: interpret(intervals, rhythm, st),
		Limitations:    append([]string(nil), limitations...),
	}, nil
}

func interpret(iv Intervals, rhythm RhythmAnalysis, st STAssessment) []string {
	lines := make([]string, 0, 6)

	if iv.HRBPM > 0 {
		lines = append(lines, fmt.Sprintf("Ventricular rate: %.0f BPM (range: %.0f-%.0f BPM)", iv.HRBPM, iv.MinHR, iv.MaxHR))
	}

	lines = append(lines, rhythm.Description)

	if iv.PRInterval > 0 {
		status := "Normal"
		switch {
		case iv.PRInterval > 200:
			status = "Prolonged (possible 1st degree AV block)"
		case iv.PRInterval < 120:
			status = "Short (consider pre-excitation)"
		}
		lines = append(lines, fmt.Sprintf("PR interval: %.0f ms - %s", iv.PRInterval, status))
	}

	if iv.QRSDuration > 0 {
		status := "Normal"
		switch {
		case iv.QRSDuration > 120:
			status = "Wide QRS (consider bundle branch block)"
		case iv.QRSDuration > 100:
			status = "Borderline"
		}
		lines = append(lines, fmt.Sprintf("QRS duration: %.0f ms - %s", iv.QRSDuration, status))
	}

	if iv.QTcInterval > 0 {
		status := "Normal"
		switch {
		case iv.QTcInterval > 470:
			status = "Prolonged QTc"
		case iv.QTcInterval < 350:
			status = "Short QTc"
		}
		lines = append(lines, fmt.Sprintf("QTc interval: %.0f ms (Bazett) - %s", iv.QTcInterval, status))
	}

	lines = append(lines, "ST segment: "+st.Description)
	return lines
}

// Summary 报告摘要（去掉波形数组），用于会话记录和事件发布
func (r *Report) Summary(generatedAt time.Time) models.ReportSummary {
	interp := make([]string, len(r.Interpretation))
	copy(interp, r.Interpretation)

	return models.ReportSummary{
		GeneratedAt:    generatedAt,
		DurationSec:    r.DurationSec,
		RPeakCount:     len(r.RPeaks),
		HRBPM:          r.Intervals.HRBPM,
		MeanRR:         r.Intervals.MeanRR,
		SDRR:           r.Intervals.SDRR,
		PRInterval:     r.Intervals.PRInterval,
		QRSDuration:    r.Intervals.QRSDuration,
		QTcInterval:    r.Intervals.QTcInterval,
		Rhythm:         string(r.Rhythm.Type),
		STDeviationMv:  r.STSegment.DeviationMv,
		STClass:        string(r.STSegment.Classification),
		Interpretation: interp,
	}
}
