// Package classifier 倦怠/压力分类器协作方
//
// 模型训练与推理不在本服务内：HTTPClassifier 调用外部模型服务，
// NopClassifier 相当于未加载模型时的行为（始终返回 0）。
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

const (
	riskAbove   = 70
	stressAbove = 40
	// DefaultConfidence 模型未给出置信度时的固定值
	DefaultConfidence = 0.85
)

// ErrInvalidScore 模型服务返回了非数值结果
var ErrInvalidScore = errors.New("classifier: invalid score")

// Burnout 把 0-1 的模型输出映射为倦怠评分与分类
func Burnout(score float64) models.BurnoutPrediction {
	s := int(math.Floor(clamp01(score)*100 + 0.5))

	class := models.BurnoutNormal
	switch {
	case s > riskAbove:
		class = models.BurnoutRisk
	case s > stressAbove:
		class = models.BurnoutHighStress
	}

	return models.BurnoutPrediction{
		Score:          s,
		Classification: class,
		Confidence:     DefaultConfidence,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// NopClassifier 未配置模型服务
type NopClassifier struct{}

// Predict 始终返回 0
func (NopClassifier) Predict(context.Context, models.FeatureVector) (float64, error) {
	return 0, nil
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Score *float64 `json:"score"`
}

// HTTPClassifier 外部模型服务客户端
type HTTPClassifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPClassifier 创建模型服务客户端
func NewHTTPClassifier(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPClassifier{httpClient: client, logger: logger}
}

// Predict POST /predict {"features":[hr,hrv,rmssd,sdnn,lf_hf,emg_rms]} → {"score":0..1}
// 返回值钳制到 [0,1]
func (c *HTTPClassifier) Predict(ctx context.Context, features models.FeatureVector) (float64, error) {
	var result predictResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(predictRequest{Features: features.Slice()}).
		SetResult(&result).
		Post("/predict")
	if err != nil {
		return 0, fmt.Errorf("failed to call classifier: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn("Classifier returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return 0, fmt.Errorf("classifier error: status %d", resp.StatusCode())
	}
	if result.Score == nil || math.IsNaN(*result.Score) {
		return 0, ErrInvalidScore
	}

	return clamp01(*result.Score), nil
}
