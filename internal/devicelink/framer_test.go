package devicelink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineFramer_KeepsPartialTail(t *testing.T) {
	f := NewLineFramer(0)

	lines, discarded := f.Push([]byte(`{"ecg":1,`))
	assert.Empty(t, lines)
	assert.Zero(t, discarded)
	assert.Equal(t, 9, f.Pending())

	lines, _ = f.Push([]byte("\"emg\":2}\n{\"ecg\":3"))
	assert.Equal(t, []string{`{"ecg":1,"emg":2}`}, lines)
	assert.Equal(t, 8, f.Pending())

	lines, _ = f.Push([]byte(",\"emg\":4}\n"))
	assert.Equal(t, []string{`{"ecg":3,"emg":4}`}, lines)
	assert.Zero(t, f.Pending())
}

func TestLineFramer_EnforcesLineCap(t *testing.T) {
	f := NewLineFramer(16)

	lines, discarded := f.Push([]byte(strings.Repeat("x", 20)))
	assert.Empty(t, lines)
	assert.Equal(t, 1, discarded)
	assert.Zero(t, f.Pending())

	// 超长行剩余部分一直丢弃到换行
	lines, discarded = f.Push([]byte("yyyy\nok\n"))
	assert.Equal(t, []string{"ok"}, lines)
	assert.Zero(t, discarded)

	// 一次性到达的超长完整行
	lines, discarded = f.Push([]byte(strings.Repeat("z", 17) + "\nfine\n"))
	assert.Equal(t, []string{"fine"}, lines)
	assert.Equal(t, 1, discarded)
}

func TestLineFramer_Reset(t *testing.T) {
	f := NewLineFramer(0)
	f.Push([]byte("partial"))
	f.Reset()
	assert.Zero(t, f.Pending())

	lines, _ := f.Push([]byte("next\n"))
	assert.Equal(t, []string{"next"}, lines)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		ecg     float64
		emg     float64
		wantErr error
	}{
		{"valid", `{"ecg":512,"emg":30}`, 512, 30, nil},
		{"whitespace and cr", "  {\"ecg\":1.5,\"emg\":-2}\r", 1.5, -2, nil},
		{"extra fields ignored", `{"ecg":1,"emg":2,"bat":88}`, 1, 2, nil},
		{"empty", "   ", 0, 0, ErrEmptyLine},
		{"not json", "hello", 0, 0, ErrMalformedLine},
		{"array", `[1,2]`, 0, 0, ErrMalformedLine},
		{"missing emg", `{"ecg":1}`, 0, 0, ErrMalformedLine},
		{"string value", `{"ecg":"1","emg":2}`, 0, 0, ErrMalformedLine},
		{"null value", `{"ecg":null,"emg":2}`, 0, 0, ErrMalformedLine},
		{"truncated", `{"ecg":1,"emg":`, 0, 0, ErrMalformedLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecg, emg, err := ParseLine(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ecg, ecg)
			assert.Equal(t, tt.emg, emg)
		})
	}
}
