package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testSessions() []models.SessionRecord {
	return []models.SessionRecord{
		{
			ID:             "s-2",
			StartedAt:      time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
			DurationSec:    120,
			AvgHR:          74,
			AvgHRV:         38,
			BurnoutScore:   45,
			Classification: models.BurnoutHighStress,
			RawECG:         []float64{1, 2, 3},
		},
		{
			ID:             "s-1",
			StartedAt:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			DurationSec:    60,
			AvgHR:          70,
			AvgHRV:         42,
			BurnoutScore:   12,
			Classification: models.BurnoutNormal,
		},
	}
}

func TestSessionsWorkbook(t *testing.T) {
	data, err := SessionsWorkbook(testSessions(), nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SessionsSheet}, f.GetSheetList())

	rows, err := f.GetRows(SessionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, SessionsHeader, rows[0])
	assert.Equal(t, []string{"s-2", "2026-03-02 09:30:00", "120", "74", "38", "45", "high_stress", "Yes"}, rows[1])
	assert.Equal(t, "No", rows[2][7])
}

func TestSessionsWorkbook_WithAlerts(t *testing.T) {
	alerts := []models.Alert{{
		Severity:  models.SeverityWarning,
		Source:    "ECG",
		Rule:      "hr_high",
		Message:   "Heart rate 120 BPM above 100",
		Value:     120,
		Threshold: 100,
		Timestamp: time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC),
	}}
	data, err := SessionsWorkbook(nil, alerts)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SessionsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	alertRows, err := f.GetRows(AlertsSheet)
	require.NoError(t, err)
	require.Len(t, alertRows, 2)
	assert.Equal(t, "hr_high", alertRows[1][3])
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.xlsx")
	require.NoError(t, WriteFile(path, testSessions(), nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SessionsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
