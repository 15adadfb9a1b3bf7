package ecg

import (
	"fmt"
	"math"
)

// STClass ST 段分类
type STClass string

const (
	STNormal     STClass = "normal"
	STElevation  STClass = "elevation"
	STDepression STClass = "depression"
)

// TP 段基线：R 波后 RR 的 70%-90%
const (
	tpStartFraction = 0.7
	tpEndFraction   = 0.9
)

// STAssessment ST 段评估
type STAssessment struct {
	DeviationMv    float64 `json:"deviation_mv"`
	Classification STClass `json:"classification"`
	Description    string  `json:"description"`
}

// AssessSTSegment 每个 R 波（最后一个除外）取 J+40 ms 处相对 TP 基线的偏移并求平均
func AssessSTSegment(rPeaks []RPeak, signal []float64) STAssessment {
	if len(rPeaks) < 2 || len(signal) == 0 {
		return STAssessment{
			Classification: STNormal,
			Description:    "Insufficient data for ST segment analysis.",
		}
	}

	n := len(signal)
	deviations := make([]float64, 0, len(rPeaks)-1)
	for i := 0; i < len(rPeaks)-1; i++ {
		r := rPeaks[i].Index
		jPoint := min(n-1, r+jPointSamples)
		stPoint := min(n-1, jPoint+stOffsetSample)

		rrSamples := float64(rPeaks[i+1].Index - r)
		tpStart := min(n-1, r+int(roundHalfUp(rrSamples*tpStartFraction)))
		tpEnd := min(n-1, r+int(roundHalfUp(rrSamples*tpEndFraction)))

		baseline, count := 0.0, 0
		for j := tpStart; j <= tpEnd; j++ {
			baseline += signal[j]
			count++
		}
		if count > 0 {
			baseline /= float64(count)
		}

		deviations = append(deviations, signal[stPoint]-baseline)
	}

	avg := 0.0
	for _, d := range deviations {
		avg += d
	}
	avg /= float64(len(deviations))
	deviation := roundHalfUp(avg*100) / 100

	switch {
	case deviation > stThresholdMv:
		return STAssessment{
			DeviationMv:    deviation,
			Classification: STElevation,
			Description: fmt.Sprintf("ST elevation of %.2f mV detected. In a single-lead recording, this finding requires "+
				"confirmation with a 12-lead ECG. May indicate acute myocardial injury if confirmed across multiple leads.", deviation),
		}
	case deviation < -stThresholdMv:
		return STAssessment{
			DeviationMv:    deviation,
			Classification: STDepression,
			Description: fmt.Sprintf("ST depression of %.2f mV detected. Requires confirmation with a 12-lead ECG. "+
				"May indicate myocardial ischemia, strain, or medication effects.", math.Abs(deviation)),
		}
	default:
		return STAssessment{
			DeviationMv:    deviation,
			Classification: STNormal,
			Description:    "ST segment is isoelectric (within normal limits).",
		}
	}
}
