package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/fintrack/internal/clock"
	"github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/smallbiznis/fintrack/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  repository.Repository[domain.Profile]
	clock clock.Clock
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("profile.service"),
		repo:  repository.ProvideStore[domain.Profile](p.DB),
		clock: c,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrProfileNotFound
	}
	profile, err := s.repo.FindOne(ctx, &domain.Profile{ID: id})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrProfileNotFound
	}
	return profile, nil
}

// Upsert writes the whole record, keyed by id.
func (s *Service) Upsert(ctx context.Context, profile domain.Profile) (*domain.Profile, error) {
	now := s.clock.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))

	err := db.Conn(ctx, s.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "is_admin", "is_active", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Update applies a partial change and returns the full stored record.
func (s *Service) Update(ctx context.Context, id string, update domain.Update) (*domain.Profile, error) {
	fields := map[string]any{}
	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return nil, domain.ErrInvalidUpdate
		}
		fields["full_name"] = name
	}
	return s.apply(ctx, id, fields)
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*domain.Profile, error) {
	profile, err := s.apply(ctx, id, map[string]any{"is_active": active})
	if err != nil {
		return nil, err
	}
	s.log.Info("profile activity changed", zap.String("user_id", id), zap.Bool("is_active", active))
	return profile, nil
}

func (s *Service) SetAdmin(ctx context.Context, id string, admin bool) (*domain.Profile, error) {
	return s.apply(ctx, id, map[string]any{"is_admin": admin})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) apply(ctx context.Context, id string, fields map[string]any) (*domain.Profile, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		fields["updated_at"] = s.clock.Now()
		if err := s.repo.Update(ctx, id, fields); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}
