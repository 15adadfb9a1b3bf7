// Package export 会话记录导出为 Excel
package export

import (
	"bytes"
	"fmt"
	"os"

	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	SessionsSheet = "Sessions"
	AlertsSheet   = "Alerts"
)

// SessionsHeader 会话表头
var SessionsHeader = []string{
	"ID",
	"Date",
	"Duration (s)",
	"Avg HR",
	"Avg HRV",
	"Burnout Score",
	"Classification",
	"Has Raw Data",
}

// AlertsHeader 告警表头
var AlertsHeader = []string{
	"Time",
	"Severity",
	"Source",
	"Rule",
	"Message",
	"Value",
	"Threshold",
}

var sessionColumnWidths = []float64{38, 20, 12, 10, 10, 14, 16, 14}
var alertColumnWidths = []float64{20, 10, 10, 14, 40, 10, 10}

// SessionsWorkbook 生成会话导出文件；alerts 为空时不生成告警表
func SessionsWorkbook(sessions []models.SessionRecord, alerts []models.Alert) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SessionsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, SessionsSheet, SessionsHeader, sessionColumnWidths, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	for i, s := range sessions {
		hasRaw := "No"
		if s.HasRawECG() {
			hasRaw = "Yes"
		}
		row := []interface{}{
			s.ID,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.DurationSec,
			s.AvgHR,
			s.AvgHRV,
			s.BurnoutScore,
			s.Classification,
			hasRaw,
		}
		if err := writeRow(f, SessionsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if len(alerts) > 0 {
		if _, err := f.NewSheet(AlertsSheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeHeader(f, AlertsSheet, AlertsHeader, alertColumnWidths, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
		for i, a := range alerts {
			row := []interface{}{
				a.Timestamp.Format("2006-01-02 15:04:05"),
				a.Severity,
				a.Source,
				a.Rule,
				a.Message,
				a.Value,
				a.Threshold,
			}
			if err := writeRow(f, AlertsSheet, i+2, row); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile 生成并写入文件
func WriteFile(path string, sessions []models.SessionRecord, alerts []models.Alert) error {
	data, err := SessionsWorkbook(sessions, alerts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}
