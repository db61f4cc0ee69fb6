package seed

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/config"
	defaultsservice "github.com/smallbiznis/fintrack/internal/defaults/service"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Auth     authdomain.Service
	Profiles profiledomain.Service
	Defaults *defaultsservice.Service
	Catalog  *config.CatalogHolder `optional:"true"`
}

// Seeder brings reference data and the bootstrap administrator into place on startup.
type Seeder struct {
	cfg      config.AdminConfig
	log      *zap.Logger
	auth     authdomain.Service
	profiles profiledomain.Service
	defaults *defaultsservice.Service
}

func New(p Params) *Seeder {
	s := &Seeder{
		cfg:      p.Config.Admin,
		log:      p.Log.Named("seed"),
		auth:     p.Auth,
		profiles: p.Profiles,
		defaults: p.Defaults,
	}
	if p.Catalog != nil {
		p.Catalog.OnChange(func(catalog config.CatalogConfig) {
			if err := s.EnsureCatalog(context.Background(), catalog); err != nil {
				s.log.Error("catalog reload not applied", zap.Error(err))
			}
		})
	}
	return s
}

func (s *Seeder) EnsureCatalog(ctx context.Context, catalog config.CatalogConfig) error {
	if err := s.defaults.EnsureCatalog(ctx, catalog); err != nil {
		return err
	}
	s.log.Info("catalog ensured",
		zap.Int("categories", len(catalog.Categories)),
		zap.Int("payment_methods", len(catalog.PaymentMethods)),
	)
	return nil
}

// EnsureAdmin creates the configured administrator when missing and promotes its profile.
// Nothing happens unless ADMIN_EMAIL is set.
func (s *Seeder) EnsureAdmin(ctx context.Context) error {
	if s.cfg.Email == "" {
		return nil
	}

	user, err := s.auth.FindUserByEmail(ctx, s.cfg.Email)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		if s.cfg.Password == "" {
			s.log.Warn("ADMIN_EMAIL set without ADMIN_PASSWORD, admin not created", zap.String("email", s.cfg.Email))
			return nil
		}
		user, err = s.auth.CreateUser(ctx, authdomain.CreateUserRequest{
			Email:     s.cfg.Email,
			Password:  s.cfg.Password,
			FullName:  "Administrator",
			Confirmed: true,
		})
	}
	if err != nil {
		return err
	}

	profile := profiledomain.Profile{ID: user.ID, Email: user.Email, FullName: user.FullName()}
	if existing, err := s.profiles.Get(ctx, user.ID); err == nil {
		profile = *existing
	} else if !errors.Is(err, profiledomain.ErrProfileNotFound) {
		return err
	}
	profile.IsAdmin = true
	profile.IsActive = true
	if _, err := s.profiles.Upsert(ctx, profile); err != nil {
		return err
	}
	s.log.Info("admin ensured", zap.String("user_id", user.ID))
	return nil
}
