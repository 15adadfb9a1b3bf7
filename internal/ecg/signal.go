// Package ecg 单导联 ECG 临床分析（纯计算，无 I/O）
//
// 处理链：
// - ADC 原始值 → mV
// - 滑动平均去基线漂移
// - 简化 Pan-Tompkins R 波检测
// - RR / PR / QRS / QT / QTc 区间估计
// - 节律分类、ST 段评估
// - 生成报告（解读 + 局限性声明）
//
// 所有 "数据不足" 情况都返回定义好的零值，不返回 NaN，也不 panic；
// 唯一的硬性前提是 GenerateReport 至少需要 1 秒（100 个采样）。
package ecg

import "math"

const (
	// SampleRate 设备采样率（Hz）
	SampleRate = 100
	// MsPerSample 每个采样的毫秒数
	MsPerSample = 1000.0 / SampleRate

	adcBits = 10
	adcMax  = float64(1<<adcBits - 1) // 1023
	adcMid  = adcMax / 2              // 511.5
	// VRef 设备参考电压（V），仅作记录
	VRef = 3.3
	// 映射到 ±1.5 mV 的标称 ECG 幅度
	nominalRangeMv = 1.5

	// BaselineWindow 去基线滑动窗口（约 0.6 s）
	BaselineWindow = 60

	// RefractoryMs 两个 R 波之间的最小间隔
	RefractoryMs      = 200
	refractorySamples = RefractoryMs / 10

	integrationMs       = 150
	integrationSamples  = integrationMs * SampleRate / 1000
	refineRadius        = 5
	initialThresholdPct = 0.3
	// 积分能量低于此值视为平直信号（只剩浮点噪声）
	minIntegratedEnergy = 1e-9

	minRRMs = 200.0
	maxRRMs = 2000.0

	// P 波搜索窗口：R 波前 80-250 ms
	pWaveNearSamples = 8
	pWaveFarSamples  = 25
	pWaveMinMv       = 0.02

	// ST：J 点 = R + 80 ms，测量点 = J + 40 ms
	jPointSamples  = 8
	stOffsetSample = 4
	stThresholdMv  = 0.1
)

// roundHalfUp 四舍五入（.5 向正无穷取整）
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

// AdcToMillivolts 10-bit ADC 值（0-1023）转换为 mV
// 以中点为零，满量程的一半对应 1.5 mV
func AdcToMillivolts(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		centered := (v - adcMid) / (adcMax / 2)
		out[i] = centered * nominalRangeMv
	}
	return out
}

// RemoveBaselineWander 居中滑动平均高通：out[i] = s[i] - mean(s[i-w/2 .. i+w/2])
// 窗口在边界处截断；采样数少于窗口时原样返回副本
func RemoveBaselineWander(signal []float64, windowSize int) []float64 {
	n := len(signal)
	if n < windowSize || windowSize <= 0 {
		out := make([]float64, n)
		copy(out, signal)
		return out
	}

	half := windowSize / 2
	filtered := make([]float64, n)
	for i := 0; i < n; i++ {
		start := max(0, i-half)
		end := min(n-1, i+half)
		sum := 0.0
		for j := start; j <= end; j++ {
			sum += signal[j]
		}
		filtered[i] = signal[i] - sum/float64(end-start+1)
	}

	return filtered
}
