package ecg

import "math"

// Intervals 区间测量结果，零值即 "无数据"
// 所有毫秒 / BPM 字段均已四舍五入
type Intervals struct {
	RRIntervals []float64 `json:"rr_intervals"` // 在 [200, 2000] ms 内的 RR
	MeanRR      float64   `json:"mean_rr"`
	SDRR        float64   `json:"sd_rr"`
	HRBPM       float64   `json:"hr_bpm"`
	MinHR       float64   `json:"min_hr"`
	MaxHR       float64   `json:"max_hr"`
	PRInterval  float64   `json:"pr_interval"`
	QRSDuration float64   `json:"qrs_duration"`
	QTInterval  float64   `json:"qt_interval"`
	QTcInterval float64   `json:"qtc_interval"`
}

const (
	qrsSearchSamples = 15
	qrsEdgeFraction  = 0.3
	qrsMinMs         = 40
	qrsMaxMs         = 200
	qrsDefaultMs     = 80

	prDefaultMs = 160
	prMinMs     = 80
	prMaxMs     = 300

	// QT 近似为 RR 的 40%，再钳制到生理范围
	qtRRRatio = 0.4
	qtMinMs   = 300
	qtMaxMs   = 500
)

// CalculateIntervals 由 R 波序列估计 RR/PR/QRS/QT/QTc
// PR、QRS、QT 均为近似值：PR 取 R 波前窗口内的最大正波，QRS 取首个 R 波
// 两侧降到 30% 幅度的位置，QT = 0.4·RR
func CalculateIntervals(rPeaks []RPeak, signal []float64) Intervals {
	if len(rPeaks) < 2 {
		return Intervals{RRIntervals: []float64{}}
	}

	rr := make([]float64, 0, len(rPeaks)-1)
	for i := 1; i < len(rPeaks); i++ {
		d := rPeaks[i].TimeMs - rPeaks[i-1].TimeMs
		if d >= minRRMs && d <= maxRRMs {
			rr = append(rr, d)
		}
	}
	if len(rr) == 0 {
		return Intervals{RRIntervals: []float64{}}
	}

	sum := 0.0
	for _, v := range rr {
		sum += v
	}
	meanRR := sum / float64(len(rr))

	variance := 0.0
	for _, v := range rr {
		variance += (v - meanRR) * (v - meanRR)
	}
	sdRR := math.Sqrt(variance / float64(len(rr)))

	minHR, maxHR := math.Inf(1), math.Inf(-1)
	for _, v := range rr {
		hr := roundHalfUp(60000 / v)
		minHR = math.Min(minHR, hr)
		maxHR = math.Max(maxHR, hr)
	}

	qt := math.Min(qtMaxMs, math.Max(qtMinMs, roundHalfUp(meanRR*qtRRRatio)))
	qtc := roundHalfUp(qt / math.Sqrt(meanRR/1000))

	return Intervals{
		RRIntervals: rr,
		MeanRR:      roundHalfUp(meanRR),
		SDRR:        roundHalfUp(sdRR),
		HRBPM:       roundHalfUp(60000 / meanRR),
		MinHR:       minHR,
		MaxHR:       maxHR,
		PRInterval:  estimatePR(rPeaks, signal),
		QRSDuration: estimateQRS(rPeaks[0], signal),
		QTInterval:  qt,
		QTcInterval: qtc,
	}
}

// estimateQRS 从首个 R 波向两侧搜索幅度降到 30% 以下的位置
func estimateQRS(peak RPeak, signal []float64) float64 {
	n := len(signal)
	edge := math.Abs(peak.AmplitudeMv) * qrsEdgeFraction

	onset := peak.Index
	for i := peak.Index; i >= max(0, peak.Index-qrsSearchSamples); i-- {
		if i < n && math.Abs(signal[i]) < edge {
			onset = i
			break
		}
	}

	offset := peak.Index
	for i := peak.Index; i <= min(n-1, peak.Index+qrsSearchSamples); i++ {
		if math.Abs(signal[i]) < edge {
			offset = i
			break
		}
	}

	qrs := float64(offset-onset) * MsPerSample
	if qrs < qrsMinMs || qrs > qrsMaxMs {
		return qrsDefaultMs
	}
	return qrs
}

// estimatePR 以首个 R 波之前 80-250 ms 内的最大正波作为 P 波
func estimatePR(rPeaks []RPeak, signal []float64) float64 {
	idx := rPeaks[0].Index
	pIdx, pVal, ok := findPWave(signal, idx)

	pr := float64(prDefaultMs)
	if ok && pVal > pWaveMinMv {
		pr = float64(idx-pIdx) * MsPerSample
	}
	return math.Min(prMaxMs, math.Max(prMinMs, pr))
}

// findPWave 在 R 波前的 P 波窗口内找最大正值
func findPWave(signal []float64, rIdx int) (int, float64, bool) {
	start := max(0, rIdx-pWaveFarSamples)
	end := max(0, rIdx-pWaveNearSamples)

	bestIdx, bestVal := start, 0.0
	found := false
	for i := start; i <= end && i < len(signal); i++ {
		if signal[i] > bestVal {
			bestVal = signal[i]
			bestIdx = i
			found = true
		}
	}
	return bestIdx, bestVal, found
}
