package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/auth/password"
	"github.com/smallbiznis/fintrack/internal/clock"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	tokenBytes        = 32
	minPasswordLength = 6
	tokenType         = "bearer"
)

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	linkRepo    domain.LinkRepository
	genID       *snowflake.Node
	clock       clock.Clock
	settings    domain.Settings
	metrics     *metrics.SessionMetrics
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	LinkRepo    domain.LinkRepository
	GenID       *snowflake.Node
	Clock       clock.Clock `optional:"true"`
	Settings    domain.Settings
	Metrics     *metrics.SessionMetrics `optional:"true"`
}

func New(p Params) domain.Service {
	settings := p.Settings
	if settings.AccessTokenTTL <= 0 {
		settings.AccessTokenTTL = time.Hour
	}
	if settings.SessionTTL <= 0 {
		settings.SessionTTL = 7 * 24 * time.Hour
	}
	if settings.LinkTTL <= 0 {
		settings.LinkTTL = 24 * time.Hour
	}
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &Service{
		log:         p.Log.Named("auth.service"),
		repo:        p.Repo,
		sessionRepo: p.SessionRepo,
		linkRepo:    p.LinkRepo,
		genID:       p.GenID,
		clock:       c,
		settings:    settings,
		metrics:     p.Metrics,
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = domain.LocalPart(email)
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: &hashed,
		Metadata:     datatypes.JSONMap{"full_name": fullName},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Confirmed {
		user.EmailConfirmedAt = &now
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	return s.repo.FindByEmail(ctx, normalized)
}

func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrUserNotFound
	}
	return s.repo.FindByID(ctx, id)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("user_id", id))
	return nil
}

// VerifyPassword never distinguishes why verification failed.
func (s *Service) VerifyPassword(ctx context.Context, user *domain.User, pw string) error {
	if user == nil || user.PasswordHash == nil || pw == "" {
		return domain.ErrInvalidCredentials
	}
	if !password.Verify(pw, *user.PasswordHash) {
		return domain.ErrInvalidCredentials
	}
	if password.NeedsRehash(*user.PasswordHash) {
		s.upgradeHash(ctx, user, pw)
	}
	return nil
}

// upgradeHash re-encodes a verified password with the current cost. Failure
// only costs another attempt on the next sign-in.
func (s *Service) upgradeHash(ctx context.Context, user *domain.User, pw string) {
	hashed, err := password.Hash(pw)
	if err == nil {
		err = s.repo.UpdateFields(ctx, user.ID, map[string]any{"password_hash": hashed})
	}
	if err != nil {
		s.log.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = &hashed
}

func (s *Service) ChangePassword(ctx context.Context, userID string, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return err
	}

	hashed, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdateFields(ctx, userID, map[string]any{
		"password_hash": hashed,
		"updated_at":    s.clock.Now(),
	})
}

// ConfirmEmail sets email_confirmed_at once; later calls keep the first timestamp.
func (s *Service) ConfirmEmail(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.EmailConfirmedAt != nil {
		return user, nil
	}
	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, userID, map[string]any{
		"email_confirmed_at": now,
		"updated_at":         now,
	}); err != nil {
		return nil, err
	}
	user.EmailConfirmedAt = &now
	return user, nil
}

func (s *Service) IssueSession(ctx context.Context, user *domain.User, meta domain.ClientMeta) (*domain.TokenPair, error) {
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	access, err := newToken()
	if err != nil {
		return nil, err
	}
	refresh, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		AccessTokenHash:  HashToken(access),
		RefreshTokenHash: HashToken(refresh),
		AccessExpiresAt:  now.Add(s.settings.AccessTokenTTL),
		ExpiresAt:        now.Add(s.settings.SessionTTL),
		UserAgent:        strings.TrimSpace(meta.UserAgent),
		IPAddress:        strings.TrimSpace(meta.IPAddress),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		s.metrics.IncError("create_session", err)
		return nil, err
	}

	grant := meta.Grant
	if grant == "" {
		grant = "password"
	}
	s.metrics.IncIssued(grant)

	return s.pair(session.ID, access, refresh, session.AccessExpiresAt, now), nil
}

// Refresh rotates both tokens of a live session. The old refresh token stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, *domain.User, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil, nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByRefreshHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, nil, domain.ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, nil, domain.ErrSessionExpired
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}

	access, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	refresh, err := newToken()
	if err != nil {
		return nil, nil, err
	}

	accessExpiresAt := now.Add(s.settings.AccessTokenTTL)
	if accessExpiresAt.After(session.ExpiresAt) {
		accessExpiresAt = session.ExpiresAt
	}
	if err := s.sessionRepo.RotateTokens(ctx, session.ID, HashToken(access), HashToken(refresh), accessExpiresAt, now); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, domain.ErrSessionRevoked
		}
		s.metrics.IncError("rotate_tokens", err)
		return nil, nil, err
	}
	s.metrics.IncRefreshed()

	return s.pair(session.ID, access, refresh, accessExpiresAt, now), user, nil
}

func (s *Service) Authenticate(ctx context.Context, accessToken string) (*domain.Session, *domain.User, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByAccessHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, nil, domain.ErrSessionRevoked
	}
	if !now.Before(session.AccessExpiresAt) || !now.Before(session.ExpiresAt) {
		return nil, nil, domain.ErrSessionExpired
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, nil, err
	}
	session.LastSeenAt = now
	return session, user, nil
}

func (s *Service) Logout(ctx context.Context, accessToken string) error {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByAccessHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}

	if err := s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now()); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	s.metrics.AddRevoked(metrics.RevokeReasonSignOut, 1)
	return nil
}

func (s *Service) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	count, err := s.sessionRepo.RevokeUserSessions(ctx, userID, s.clock.Now())
	if err != nil {
		s.metrics.IncError("revoke_user_sessions", err)
		return 0, err
	}
	s.metrics.AddRevoked(metrics.RevokeReasonAdmin, int(count))
	s.log.Info("user sessions revoked", zap.String("user_id", userID), zap.Int64("count", count))
	return count, nil
}

func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration, limit int) (domain.PurgeResult, error) {
	if limit <= 0 {
		limit = 500
	}
	cutoff := s.clock.Now().Add(-retention)

	var res domain.PurgeResult
	sessions, err := s.sessionRepo.PurgeSessions(ctx, cutoff, limit)
	if err != nil {
		s.metrics.IncError("purge_sessions", err)
		return res, err
	}
	res.Sessions = sessions

	links, err := s.linkRepo.PurgeLinks(ctx, cutoff, limit)
	if err != nil {
		return res, err
	}
	res.Links = links
	return res, nil
}

// CreateLink returns the raw token; only its hash is stored.
func (s *Service) CreateLink(ctx context.Context, userID string, linkType domain.LinkType, redirectTo string) (string, *domain.Link, error) {
	if !linkType.Valid() {
		return "", nil, domain.ErrInvalidLink
	}
	raw, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := s.clock.Now()
	link := &domain.Link{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Type:       linkType,
		TokenHash:  HashToken(raw),
		RedirectTo: strings.TrimSpace(redirectTo),
		ExpiresAt:  now.Add(s.settings.LinkTTL),
		CreatedAt:  now,
	}
	if err := s.linkRepo.CreateLink(ctx, link); err != nil {
		return "", nil, err
	}
	return raw, link, nil
}

// ConsumeLink marks a link used. Signup and magic links share the email confirmation flow.
func (s *Service) ConsumeLink(ctx context.Context, rawToken string, linkType domain.LinkType) (*domain.User, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidLink
	}
	link, err := s.linkRepo.GetLinkByHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if !sameFlow(link.Type, linkType) {
		return nil, domain.ErrInvalidLink
	}
	now := s.clock.Now()
	if link.UsedAt != nil || !now.Before(link.ExpiresAt) {
		return nil, domain.ErrInvalidLink
	}
	ok, err := s.linkRepo.MarkLinkUsed(ctx, link.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidLink
	}

	if link.Type == domain.LinkTypeRecovery {
		return s.repo.FindByID(ctx, link.UserID)
	}
	return s.ConfirmEmail(ctx, link.UserID)
}

func sameFlow(stored, requested domain.LinkType) bool {
	if stored == requested {
		return true
	}
	confirm := func(t domain.LinkType) bool {
		return t == domain.LinkTypeSignup || t == domain.LinkTypeMagicLink
	}
	return confirm(stored) && confirm(requested)
}

func (s *Service) pair(id snowflake.ID, access, refresh string, expiresAt, now time.Time) *domain.TokenPair {
	return &domain.TokenPair{
		SessionID:    id,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(expiresAt.Sub(now).Seconds()),
		ExpiresAt:    expiresAt,
		TokenType:    tokenType,
	}
}

// ValidatePassword applies the password policy shared by signup and password changes.
func ValidatePassword(pw string) error {
	if pw == "" {
		return domain.ErrPasswordRequired
	}
	if len(pw) < minPasswordLength {
		return domain.ErrPasswordTooShort
	}
	return nil
}

// NormalizeEmail parses and lower-cases an address.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the stored form of an opaque token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
