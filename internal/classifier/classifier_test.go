package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBurnout(t *testing.T) {
	tests := []struct {
		score     float64
		wantScore int
		wantClass string
	}{
		{0, 0, models.BurnoutNormal},
		{0.40, 40, models.BurnoutNormal},
		{0.41, 41, models.BurnoutHighStress},
		{0.70, 70, models.BurnoutHighStress},
		{0.71, 71, models.BurnoutRisk},
		{1.3, 100, models.BurnoutRisk},
		{-0.2, 0, models.BurnoutNormal},
	}

	for _, tt := range tests {
		p := Burnout(tt.score)
		assert.Equal(t, tt.wantScore, p.Score, "score %v", tt.score)
		assert.Equal(t, tt.wantClass, p.Classification, "score %v", tt.score)
		assert.Equal(t, DefaultConfidence, p.Confidence)
	}
}

func TestNopClassifier(t *testing.T) {
	score, err := NopClassifier{}.Predict(context.Background(), models.FeatureVector{HR: 90})
	require.NoError(t, err)
	assert.Zero(t, score)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClassifier {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClassifier(srv.URL, time.Second, zap.NewNop())
}

func TestHTTPClassifier_Predict(t *testing.T) {
	var got predictRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":0.62}`))
	})

	fv := models.FeatureVector{HR: 88, HRV: 31, RMSSD: 31, SDNN: 34, LFHF: 1.5, EMGRMS: 22}
	score, err := c.Predict(context.Background(), fv)
	require.NoError(t, err)

	assert.Equal(t, 0.62, score)
	assert.Equal(t, []float64{88, 31, 31, 34, 1.5, 22}, got.Features)
}

func TestHTTPClassifier_ClampsScore(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":1.7}`))
	})

	score, err := c.Predict(context.Background(), models.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestHTTPClassifier_MissingScore(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Predict(context.Background(), models.FeatureVector{})
	assert.ErrorIs(t, err, ErrInvalidScore)
}

func TestHTTPClassifier_ErrorStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := c.Predict(context.Background(), models.FeatureVector{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
