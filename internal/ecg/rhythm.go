package ecg

import "fmt"

// RhythmType 节律类型
type RhythmType string

const (
	RhythmInsufficientData RhythmType = "insufficient_data"
	RhythmSinus            RhythmType = "sinus_rhythm"
	RhythmBradycardia      RhythmType = "sinus_bradycardia"
	RhythmTachycardia      RhythmType = "sinus_tachycardia"
	RhythmIrregular        RhythmType = "irregular"
)

const (
	regularCVLimit   = 0.15
	pWaveBeatShare   = 0.6
	bradycardiaBelow = 60
	tachycardiaAbove = 100
)

// RhythmAnalysis 节律评估
type RhythmAnalysis struct {
	Type         RhythmType `json:"type"`
	Regular      bool       `json:"regular"`
	PWavePresent bool       `json:"p_wave_present"`
	Description  string     `json:"description"`
}

// AssessRhythm 按 RR 变异系数、心率与 P 波出现比例分类
// 优先级：irregular > bradycardia > tachycardia > sinus
func AssessRhythm(intervals Intervals, rPeaks []RPeak, signal []float64) RhythmAnalysis {
	if len(rPeaks) < 3 || intervals.MeanRR == 0 {
		return RhythmAnalysis{
			Type:        RhythmInsufficientData,
			Description: "Insufficient R-peaks detected for rhythm analysis. Recording may be too short or signal quality is poor.",
		}
	}

	cv := intervals.SDRR / intervals.MeanRR
	regular := cv < regularCVLimit

	withP := 0
	for _, p := range rPeaks {
		if _, v, ok := findPWave(signal, p.Index); ok && v > pWaveMinMv {
			withP++
		}
	}
	pWavePresent := float64(withP) > float64(len(rPeaks))*pWaveBeatShare

	hr := intervals.HRBPM
	result := RhythmAnalysis{Regular: regular, PWavePresent: pWavePresent}

	switch {
	case !regular:
		result.Type = RhythmIrregular
		result.Description = "Irregular rhythm detected. R-R interval variability exceeds normal sinus variation. " +
			"Further evaluation with 12-lead ECG recommended."
	case hr < bradycardiaBelow:
		result.Type = RhythmBradycardia
		result.Description = fmt.Sprintf("Sinus bradycardia at %.0f BPM. %s Rate below 60 BPM - may be normal in athletes or during sleep.",
			hr, pick(pWavePresent, "P waves present before each QRS.", "P wave morphology unclear in this lead."))
	case hr > tachycardiaAbove:
		result.Type = RhythmTachycardia
		result.Description = fmt.Sprintf("Sinus tachycardia at %.0f BPM. %s Rate above 100 BPM - consider stress, anxiety, caffeine, or underlying condition.",
			hr, pick(pWavePresent, "P waves present before each QRS.", "P wave morphology unclear."))
	default:
		result.Type = RhythmSinus
		result.Description = fmt.Sprintf("Normal sinus rhythm at %.0f BPM. %s Regular R-R intervals.",
			hr, pick(pWavePresent, "P waves present and upright before each QRS complex.", "P wave assessment limited in this lead configuration."))
	}

	return result
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
