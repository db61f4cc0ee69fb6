package domain

import (
	"context"
	"time"
)

const (
	StatusActive       = "active"
	StatusExpiringSoon = "expiring_soon"
)

// ActiveSessionRecord is a read-only view of one live session and its owner.
type ActiveSessionRecord struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	UserIsActive     bool      `json:"user_is_active"`
	SessionStarted   time.Time `json:"session_started"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	HoursUntilExpiry float64   `json:"hours_until_expiry"`
	Status           string    `json:"status"`
}

type SessionStats struct {
	TotalActiveSessions  int64   `json:"total_active_sessions"`
	UniqueActiveUsers    int64   `json:"unique_active_users"`
	SessionsExpiringSoon int64   `json:"sessions_expiring_soon"`
	AvgSessionAgeHours   float64 `json:"avg_session_age_hours"`
}

type Service interface {
	ListActive(ctx context.Context) ([]ActiveSessionRecord, error)
	Stats(ctx context.Context) (SessionStats, error)
}
