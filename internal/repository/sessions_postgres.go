package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// PostgresSessionRepository 会话存储（ecg_sessions 表）
type PostgresSessionRepository struct {
	db     *sql.DB
	limit  int
	logger *zap.Logger
}

// NewPostgresSessionRepository 创建 PostgreSQL 会话仓库
func NewPostgresSessionRepository(db *sql.DB, limit int, logger *zap.Logger) *PostgresSessionRepository {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	return &PostgresSessionRepository{
		db:     db,
		limit:  limit,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *PostgresSessionRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ecg_sessions (
			session_id      UUID PRIMARY KEY,
			device_id       TEXT NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			duration_sec    INTEGER NOT NULL,
			avg_hr          DOUBLE PRECISION NOT NULL,
			avg_hrv         DOUBLE PRECISION NOT NULL,
			avg_emg_rms     DOUBLE PRECISION NOT NULL,
			burnout_score   INTEGER NOT NULL,
			classification  TEXT NOT NULL,
			raw_ecg         JSONB,
			report          JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create ecg_sessions table: %w", err)
	}
	return nil
}

// SaveSession 插入一条会话
func (r *PostgresSessionRepository) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	var rawECG, report []byte
	var err error
	if record.HasRawECG() {
		if rawECG, err = json.Marshal(record.RawECG); err != nil {
			return fmt.Errorf("failed to marshal raw_ecg: %w", err)
		}
	}
	if record.Report != nil {
		if report, err = json.Marshal(record.Report); err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
	}

	query := `
		INSERT INTO ecg_sessions (
			session_id, device_id, started_at, duration_sec,
			avg_hr, avg_hrv, avg_emg_rms,
			burnout_score, classification, raw_ecg, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID,
		record.DeviceID,
		record.StartedAt,
		record.DurationSec,
		record.AvgHR,
		record.AvgHRV,
		record.AvgEMGRMS,
		record.BurnoutScore,
		record.Classification,
		nullableJSON(rawECG),
		nullableJSON(report),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	r.logger.Debug("Session saved to PostgreSQL",
		zap.String("session_id", record.ID),
		zap.String("device_id", record.DeviceID),
	)
	return nil
}

const selectSessionColumns = `
	SELECT
		session_id, device_id, started_at, duration_sec,
		avg_hr, avg_hrv, avg_emg_rms,
		burnout_score, classification, raw_ecg, report
	FROM ecg_sessions
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.SessionRecord, error) {
	var s models.SessionRecord
	var rawECG, report []byte
	if err := row.Scan(
		&s.ID,
		&s.DeviceID,
		&s.StartedAt,
		&s.DurationSec,
		&s.AvgHR,
		&s.AvgHRV,
		&s.AvgEMGRMS,
		&s.BurnoutScore,
		&s.Classification,
		&rawECG,
		&report,
	); err != nil {
		return nil, err
	}

	if len(rawECG) > 0 {
		if err := json.Unmarshal(rawECG, &s.RawECG); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw_ecg: %w", err)
		}
	}
	if len(report) > 0 {
		var summary models.ReportSummary
		if err := json.Unmarshal(report, &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		s.Report = &summary
	}
	return &s, nil
}

// ListSessions 最近的会话，按开始时间倒序
func (r *PostgresSessionRepository) ListSessions(ctx context.Context, deviceID string) ([]models.SessionRecord, error) {
	query := selectSessionColumns + `
		WHERE device_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// GetSession 按 ID 读取
func (r *PostgresSessionRepository) GetSession(ctx context.Context, deviceID, sessionID string) (*models.SessionRecord, error) {
	query := selectSessionColumns + `
		WHERE device_id = $1 AND session_id = $2
	`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, deviceID, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

// ClearSessions 删除设备的全部会话
func (r *PostgresSessionRepository) ClearSessions(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ecg_sessions WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
