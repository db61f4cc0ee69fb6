package signup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	authservice "github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/internal/providers/email"
	"github.com/smallbiznis/fintrack/internal/signup/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const callbackPath = "/auth/callback"

type service struct {
	log         *zap.Logger
	authsvc     authdomain.Service
	profilesvc  profiledomain.Service
	provisioner domain.Provisioner
	mailer      email.Provider
	publicURL   string
	linkTTL     time.Duration
	metrics     *metrics.Metrics
	db          *gorm.DB
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Auth        authdomain.Service
	Profiles    profiledomain.Service
	Provisioner domain.Provisioner
	Mailer      email.Provider
	Config      config.Config
	Settings    authdomain.Settings
	Metrics     *metrics.Metrics `optional:"true"`
	DB          *gorm.DB         `optional:"true"`
}

func NewService(p Params) domain.Service {
	ttl := p.Settings.LinkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{
		log:         p.Log.Named("signup.service"),
		authsvc:     p.Auth,
		profilesvc:  p.Profiles,
		provisioner: p.Provisioner,
		mailer:      p.Mailer,
		publicURL:   strings.TrimRight(p.Config.PublicURL, "/"),
		linkTTL:     ttl,
		metrics:     p.Metrics,
		db:          p.DB,
	}
}

// Signup replaces any existing account for the email with a new, already confirmed one.
func (s *service) Signup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if _, err := authservice.NormalizeEmail(req.Email); err != nil {
		return nil, authdomain.ErrInvalidEmail
	}
	// Validate fully before touching the existing account; replacement deletes it.
	if err := authservice.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	existing, err := s.authsvc.FindUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, authdomain.ErrUserNotFound) {
		s.metrics.RecordSignup(ctx, "error")
		return nil, err
	}

	// The old account only goes away if the new one is stored.
	var user *authdomain.User
	outcome := "rejected"
	err = db.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if existing != nil {
			if err := s.removeExisting(ctx, existing); err != nil {
				outcome = "error"
				return err
			}
		}
		created, err := s.authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
			Email:     req.Email,
			Password:  req.Password,
			FullName:  req.FullName,
			Confirmed: true,
		})
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		s.metrics.RecordSignup(ctx, outcome)
		return nil, err
	}
	if existing != nil {
		s.log.Info("existing account replaced", zap.String("user_id", existing.ID))
	}

	if err := s.provisioner.Provision(ctx, user); err != nil {
		s.log.Warn("profile provisioning failed, signup continues",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	s.metrics.RecordSignup(ctx, "created")
	s.log.Info("account created", zap.String("user_id", user.ID))

	return &domain.Result{
		User:                 user,
		Message:              domain.MessageAccountCreated,
		RequiresVerification: false,
	}, nil
}

func (s *service) removeExisting(ctx context.Context, user *authdomain.User) error {
	if err := s.profilesvc.Delete(ctx, user.ID); err != nil && !errors.Is(err, profiledomain.ErrProfileNotFound) {
		return fmt.Errorf("delete existing profile: %w", err)
	}
	if err := s.authsvc.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete existing user: %w", err)
	}
	return nil
}

func (s *service) ResendVerification(ctx context.Context, req domain.LinkRequest) (string, error) {
	user, err := s.authsvc.FindUserByEmail(ctx, req.Email)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return domain.MessageNoEnumeration, nil
	}
	if err != nil {
		return "", err
	}
	if user.EmailConfirmedAt != nil {
		return "", domain.ErrEmailAlreadyVerified
	}

	raw, _, err := s.authsvc.CreateLink(ctx, user.ID, authdomain.LinkTypeMagicLink, s.redirectURL(req.Origin))
	if err != nil {
		return "", err
	}
	msg, err := email.VerificationEmail(user.Email, s.actionURL(raw, authdomain.LinkTypeMagicLink, req.Origin), user.FullName(), s.linkTTL)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEmailDelivery, err)
	}
	return domain.MessageVerificationSent, nil
}

// RequestPasswordReset always reports success so callers cannot learn which emails exist.
func (s *service) RequestPasswordReset(ctx context.Context, req domain.LinkRequest) (string, error) {
	user, err := s.authsvc.FindUserByEmail(ctx, req.Email)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return domain.MessageResetSent, nil
	}
	if err != nil {
		return "", err
	}

	raw, _, err := s.authsvc.CreateLink(ctx, user.ID, authdomain.LinkTypeRecovery, s.redirectURL(req.Origin))
	if err != nil {
		return "", err
	}
	msg, err := email.PasswordResetEmail(user.Email, s.actionURL(raw, authdomain.LinkTypeRecovery, req.Origin), user.FullName(), s.linkTTL)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Warn("password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return domain.MessageResetSent, nil
}

func (s *service) base(origin string) string {
	if o := strings.TrimRight(strings.TrimSpace(origin), "/"); o != "" {
		return o
	}
	return s.publicURL
}

func (s *service) redirectURL(origin string) string {
	return s.base(origin) + callbackPath
}

func (s *service) actionURL(raw string, linkType authdomain.LinkType, origin string) string {
	q := url.Values{}
	q.Set("token", raw)
	q.Set("type", string(linkType))
	q.Set("redirect_to", s.redirectURL(origin))
	return s.publicURL + "/api/auth/verify?" + q.Encode()
}
