// Package repository 会话与告警持久化（Redis List / PostgreSQL）
package repository

import (
	"context"

	"github.com/smalok/NeuroGuard/internal/models"
)

// SessionRepository 会话存储
type SessionRepository interface {
	SaveSession(ctx context.Context, record *models.SessionRecord) error
	ListSessions(ctx context.Context, deviceID string) ([]models.SessionRecord, error)
	GetSession(ctx context.Context, deviceID, sessionID string) (*models.SessionRecord, error)
	ClearSessions(ctx context.Context, deviceID string) error
}

var (
	_ SessionRepository = (*RedisSessionRepository)(nil)
	_ SessionRepository = (*PostgresSessionRepository)(nil)
)
