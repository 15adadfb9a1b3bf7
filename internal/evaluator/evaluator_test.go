package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	alerts []models.Alert
	err    error
}

func (s *recordingSink) HandleAlert(_ context.Context, alert *models.Alert) error {
	s.alerts = append(s.alerts, *alert)
	return s.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Alert.HRHigh = 100
	cfg.Alert.HRVLow = 25
	cfg.Alert.BurnoutHigh = 70
	cfg.Alert.EMGHigh = 70
	cfg.Alert.Cooldown = 5 * time.Minute
	cfg.Alert.StateKeyPrefix = "neuroguard:alert:state:"
	return cfg
}

func snapshot(hr, hrv, emg float64, score int) models.VitalsSnapshot {
	snap := models.VitalsSnapshot{
		DeviceID:  "dev-1",
		Vitals:    models.Vitals{HeartRate: hr, HRV: hrv, EMGRMS: emg},
		Timestamp: time.Unix(1700000000, 0),
	}
	if score >= 0 {
		snap.Prediction = &models.BurnoutPrediction{Score: score}
	}
	return snap
}

func rules(alerts []models.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Rule)
	}
	return out
}

func TestEvaluate_Rules(t *testing.T) {
	e := NewEvaluator(testConfig(), nil, zap.NewNop())

	tests := []struct {
		name string
		snap models.VitalsSnapshot
		want []string
	}{
		{"all normal", snapshot(72, 40, 20, 30), []string{}},
		{"boundaries do not fire", snapshot(100, 25, 70, 70), []string{}},
		{"zero hrv ignored", snapshot(72, 0, 20, -1), []string{}},
		{"high hr", snapshot(120, 40, 20, -1), []string{RuleHRHigh}},
		{"low hrv", snapshot(72, 10, 20, -1), []string{RuleHRVLow}},
		{"burnout", snapshot(72, 40, 20, 71), []string{RuleBurnoutHigh}},
		{"everything", snapshot(130, 12, 90, 95), []string{RuleHRHigh, RuleHRVLow, RuleBurnoutHigh, RuleEMGHigh}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules(e.Evaluate(tt.snap)))
		})
	}
}

func TestEvaluate_AlertFields(t *testing.T) {
	e := NewEvaluator(testConfig(), nil, zap.NewNop())

	alerts := e.Evaluate(snapshot(72, 40, 20, 88))
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "dev-1", a.DeviceID)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, SourceML, a.Source)
	assert.Equal(t, 88.0, a.Value)
	assert.Equal(t, 70.0, a.Threshold)
	assert.Equal(t, time.Unix(1700000000, 0), a.Timestamp)
}

func TestHandleVitals_CooldownSuppressesRepeats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := &recordingSink{}
	e := NewEvaluator(testConfig(), client, zap.NewNop(), sink)
	ctx := context.Background()

	require.NoError(t, e.HandleVitals(ctx, snapshot(120, 40, 20, -1)))
	require.NoError(t, e.HandleVitals(ctx, snapshot(125, 40, 20, -1)))
	assert.Len(t, sink.alerts, 1)

	key := e.StateKey("dev-1", RuleHRHigh)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 5*time.Minute, mr.TTL(key))

	// 另一条规则不受影响
	require.NoError(t, e.HandleVitals(ctx, snapshot(72, 10, 20, -1)))
	assert.Equal(t, []string{RuleHRHigh, RuleHRVLow}, rules(sink.alerts))

	mr.FastForward(6 * time.Minute)
	require.NoError(t, e.HandleVitals(ctx, snapshot(120, 40, 20, -1)))
	assert.Len(t, sink.alerts, 3)
}

func TestHandleVitals_ResetCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := &recordingSink{}
	e := NewEvaluator(testConfig(), client, zap.NewNop(), sink)
	ctx := context.Background()

	require.NoError(t, e.HandleVitals(ctx, snapshot(120, 40, 20, -1)))
	require.NoError(t, e.ResetCooldown(ctx, "dev-1"))
	require.NoError(t, e.HandleVitals(ctx, snapshot(120, 40, 20, -1)))
	assert.Len(t, sink.alerts, 2)
}

func TestHandleVitals_RedisDownStillEmits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	sink := &recordingSink{err: errors.New("sink down")}
	other := &recordingSink{}
	e := NewEvaluator(testConfig(), client, zap.NewNop(), sink, other)

	require.NoError(t, e.HandleVitals(context.Background(), snapshot(120, 40, 20, -1)))
	assert.Len(t, sink.alerts, 1)
	assert.Len(t, other.alerts, 1)
}
