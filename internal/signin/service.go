package signin

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	authservice "github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/internal/signin/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Auth     authdomain.Service
	Profiles profiledomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type service struct {
	log      *zap.Logger
	auth     authdomain.Service
	profiles profiledomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		log:      p.Log.Named("signin.service"),
		auth:     p.Auth,
		profiles: p.Profiles,
		metrics:  p.Metrics,
	}
}

// Signin checks, in order: the identity exists, its profile is not deactivated,
// the password matches. Unknown email and wrong password are indistinguishable.
// The deactivation check runs before the password check, so a deactivated
// account is reported as such to anyone who knows the email.
func (s *service) Signin(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if _, err := authservice.NormalizeEmail(req.Email); err != nil {
		return nil, authdomain.ErrInvalidEmail
	}
	if req.Password == "" {
		return nil, authdomain.ErrPasswordRequired
	}

	user, err := s.auth.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, authdomain.ErrUserNotFound) {
			s.metrics.RecordSignin(ctx, "invalid_credentials")
			return nil, authdomain.ErrInvalidCredentials
		}
		s.metrics.RecordSignin(ctx, "error")
		return nil, err
	}

	profile, err := s.profiles.Get(ctx, user.ID)
	switch {
	case err == nil:
		if !profile.IsActive {
			s.metrics.RecordSignin(ctx, "deactivated")
			return nil, domain.ErrAccountDeactivated
		}
	case errors.Is(err, profiledomain.ErrProfileNotFound):
	default:
		s.log.Warn("profile lookup failed during signin", zap.String("user_id", user.ID), zap.Error(err))
	}

	if err := s.auth.VerifyPassword(ctx, user, req.Password); err != nil {
		s.metrics.RecordSignin(ctx, "invalid_credentials")
		return nil, authdomain.ErrInvalidCredentials
	}

	tokens, err := s.auth.IssueSession(ctx, user, authdomain.ClientMeta{
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
		Grant:     "password",
	})
	if err != nil {
		s.metrics.RecordSignin(ctx, "error")
		return nil, err
	}

	s.metrics.RecordSignin(ctx, "success")
	return &domain.Result{Tokens: tokens, User: user}, nil
}
