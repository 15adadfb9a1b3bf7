package devicelink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaxLineBytes 单行上限，超出的部分行直接丢弃
const DefaultMaxLineBytes = 4096

// LineFramer 把字节流切分为 '\n' 结尾的行，保留未结束的尾部
type LineFramer struct {
	buf      []byte
	max      int
	skipping bool // 正在丢弃一条超长行，直到下一个 '\n'
}

// NewLineFramer 创建分行器
func NewLineFramer(maxLineBytes int) *LineFramer {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineFramer{max: maxLineBytes}
}

// Push 追加一段数据，返回其中完整的行（不含 '\n'）以及被丢弃的超长行数
func (f *LineFramer) Push(chunk []byte) (lines []string, discarded int) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if !f.skipping {
				f.buf = append(f.buf, chunk...)
				if len(f.buf) > f.max {
					f.buf = f.buf[:0]
					f.skipping = true
					discarded++
				}
			}
			return lines, discarded
		}

		switch {
		case f.skipping:
			f.skipping = false
		case len(f.buf)+i > f.max:
			discarded++
		default:
			f.buf = append(f.buf, chunk[:i]...)
			lines = append(lines, string(f.buf))
		}
		f.buf = f.buf[:0]
		chunk = chunk[i+1:]
	}
	return lines, discarded
}

// Pending 当前缓存的未结束字节数
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// Reset 清空缓存
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
	f.skipping = false
}

type wireSample struct {
	ECG *float64 `json:"ecg"`
	EMG *float64 `json:"emg"`
}

// ParseLine 解析一行 {"ecg":<number>,"emg":<number>}
// 其它字段忽略；缺字段、非数值、非对象都视为格式错误
func ParseLine(line string) (ecg, emg float64, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, 0, ErrEmptyLine
	}
	if line[0] != '{' {
		return 0, 0, fmt.Errorf("%w: not a JSON object", ErrMalformedLine)
	}

	var w wireSample
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if w.ECG == nil || w.EMG == nil {
		return 0, 0, fmt.Errorf("%w: missing ecg or emg", ErrMalformedLine)
	}

	return *w.ECG, *w.EMG, nil
}
