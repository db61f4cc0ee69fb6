package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fintrack/internal/adminsessions/domain"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/clock"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Clock   clock.Clock             `optional:"true"`
	Metrics *metrics.SessionMetrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	expiringSoon time.Duration
	metrics      *metrics.SessionMetrics
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	window := p.Config.Auth.ExpiringSoon
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("adminsessions.service"),
		clock:        c,
		expiringSoon: window,
		metrics:      p.Metrics,
	}
}

type sessionRow struct {
	SessionID       int64
	UserID          string
	Email           string
	Metadata        datatypes.JSONMap
	ProfileName     *string
	ProfileIsActive *bool
	CreatedAt       time.Time
	LastSeenAt      time.Time
	ExpiresAt       time.Time
}

func (s *Service) active(ctx context.Context, now time.Time) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("sessions AS s").
		Where("s.revoked_at IS NULL AND s.expires_at > ?", now)
}

// ListActive returns live sessions, newest first.
func (s *Service) ListActive(ctx context.Context) ([]domain.ActiveSessionRecord, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveAdminQuery(time.Since(start)) }()

	now := s.clock.Now()
	var rows []sessionRow
	err := s.active(ctx, now).
		Select(`s.id AS session_id, s.user_id, u.email, u.metadata,
			p.full_name AS profile_name, p.is_active AS profile_is_active,
			s.created_at, s.last_seen_at, s.expires_at`).
		Joins("JOIN users AS u ON u.id = s.user_id").
		Joins("LEFT JOIN user_profiles AS p ON p.id = s.user_id").
		Order("s.created_at DESC").
		Order("s.id DESC").
		Scan(&rows).Error
	if err != nil {
		s.metrics.IncError("list_active_sessions", err)
		return nil, err
	}

	records := make([]domain.ActiveSessionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.toRecord(row, now))
	}
	return records, nil
}

func (s *Service) toRecord(row sessionRow, now time.Time) domain.ActiveSessionRecord {
	user := authdomain.User{Email: row.Email, Metadata: row.Metadata}
	fullName := user.FullName()
	if row.ProfileName != nil && *row.ProfileName != "" {
		fullName = *row.ProfileName
	}
	isActive := true
	if row.ProfileIsActive != nil {
		isActive = *row.ProfileIsActive
	}

	remaining := row.ExpiresAt.Sub(now)
	status := domain.StatusActive
	if remaining <= s.expiringSoon {
		status = domain.StatusExpiringSoon
	}

	return domain.ActiveSessionRecord{
		SessionID:        snowflake.ID(row.SessionID).String(),
		UserID:           row.UserID,
		Email:            row.Email,
		FullName:         fullName,
		UserIsActive:     isActive,
		SessionStarted:   row.CreatedAt,
		LastActivity:     row.LastSeenAt,
		ExpiresAt:        row.ExpiresAt,
		HoursUntilExpiry: round2(remaining.Hours()),
		Status:           status,
	}
}

type statsRow struct {
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *Service) Stats(ctx context.Context) (domain.SessionStats, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveAdminQuery(time.Since(start)) }()

	now := s.clock.Now()
	var rows []statsRow
	err := s.active(ctx, now).
		Select("s.user_id, s.created_at, s.expires_at").
		Scan(&rows).Error
	if err != nil {
		s.metrics.IncError("session_stats", err)
		return domain.SessionStats{}, err
	}

	var stats domain.SessionStats
	users := make(map[string]struct{}, len(rows))
	var totalAge time.Duration
	for _, row := range rows {
		stats.TotalActiveSessions++
		users[row.UserID] = struct{}{}
		if row.ExpiresAt.Sub(now) <= s.expiringSoon {
			stats.SessionsExpiringSoon++
		}
		totalAge += now.Sub(row.CreatedAt)
	}
	stats.UniqueActiveUsers = int64(len(users))
	if stats.TotalActiveSessions > 0 {
		stats.AvgSessionAgeHours = round2(totalAge.Hours() / float64(stats.TotalActiveSessions))
	}
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
