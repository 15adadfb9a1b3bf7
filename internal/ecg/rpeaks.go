package ecg

import "math"

// RPeak 检测到的 R 波
type RPeak struct {
	Index       int     `json:"index"`        // 分析窗口内的采样下标
	AmplitudeMv float64 `json:"amplitude_mv"` // 滤波后信号在该点的幅度
	TimeMs      float64 `json:"time_ms"`      // 距窗口起点的毫秒数
}

// DetectRPeaks 简化 Pan-Tompkins R 波检测
//
// 1. 中心差分后平方，突出 QRS
// 2. 150 ms 滑动积分（前向窗口）
// 3. 自适应阈值：初始为积分最大值的 30%，每次接受后指数跟踪
// 4. 不应期 200 ms
// 5. 在原始滤波信号 ±5 个采样内取绝对值最大点作为 R 波
//
// 少于 1 秒的数据返回空序列。
func DetectRPeaks(signal []float64) []RPeak {
	n := len(signal)
	peaks := []RPeak{}
	if n < SampleRate {
		return peaks
	}

	squared := make([]float64, n)
	for i := 1; i < n-1; i++ {
		diff := signal[i+1] - signal[i-1]
		squared[i] = diff * diff
	}

	integrated := make([]float64, n)
	for i := integrationSamples; i < n; i++ {
		sum := 0.0
		for j := i - integrationSamples; j < i; j++ {
			sum += squared[j]
		}
		integrated[i] = sum / integrationSamples
	}

	maxInteg := 0.0
	for _, v := range integrated {
		if v > maxInteg {
			maxInteg = v
		}
	}
	if maxInteg < minIntegratedEnergy {
		return peaks
	}
	threshold := maxInteg * initialThresholdPct

	lastPeakIdx := -refractorySamples
	for i := 1; i < n-1; i++ {
		if integrated[i] <= threshold ||
			integrated[i] <= integrated[i-1] ||
			integrated[i] < integrated[i+1] ||
			i-lastPeakIdx < refractorySamples {
			continue
		}

		bestIdx := i
		bestVal := math.Abs(signal[i])
		for j := max(0, i-refineRadius); j <= min(n-1, i+refineRadius); j++ {
			if math.Abs(signal[j]) > bestVal {
				bestVal = math.Abs(signal[j])
				bestIdx = j
			}
		}

		// 精修后的位置仍需满足不应期
		if len(peaks) > 0 && bestIdx-lastPeakIdx < refractorySamples {
			continue
		}

		peaks = append(peaks, RPeak{
			Index:       bestIdx,
			AmplitudeMv: signal[bestIdx],
			TimeMs:      float64(bestIdx) * MsPerSample,
		})
		lastPeakIdx = bestIdx

		threshold = 0.6*threshold + 0.4*(integrated[i]*0.5)
	}

	return peaks
}
