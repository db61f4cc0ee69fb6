package signup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	authrepo "github.com/smallbiznis/fintrack/internal/auth/repository"
	authservice "github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/config"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	profileservice "github.com/smallbiznis/fintrack/internal/profile/service"
	"github.com/smallbiznis/fintrack/internal/providers/email"
	"github.com/smallbiznis/fintrack/internal/signup/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type fixture struct {
	svc      domain.Service
	auth     authdomain.Service
	profiles profiledomain.Service
	mailer   *email.MockProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}, &authdomain.Link{}, &profiledomain.Profile{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo, sessions, links := authrepo.New(conn)
	auth := authservice.New(authservice.Params{
		Log:         zap.NewNop(),
		Repo:        repo,
		SessionRepo: sessions,
		LinkRepo:    links,
		GenID:       node,
	})
	profiles := profileservice.New(profileservice.Params{DB: conn, Log: zap.NewNop()})
	mailer := email.NewMockProvider(gomock.NewController(t))

	svc := NewService(Params{
		Log:         zap.NewNop(),
		Auth:        auth,
		Profiles:    profiles,
		Provisioner: NewProfileProvisioner(profiles),
		Mailer:      mailer,
		Config:      config.Config{PublicURL: "http://localhost:4000"},
		Settings:    authdomain.Settings{LinkTTL: 24 * time.Hour},
		DB:          conn,
	})
	return &fixture{svc: svc, auth: auth, profiles: profiles, mailer: mailer}
}

func TestSignupCreatesConfirmedAccountAndProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Signup(ctx, domain.Request{Email: "new@x.co", Password: "secret1"})
	require.NoError(t, err)
	assert.False(t, result.RequiresVerification)
	assert.Equal(t, domain.MessageAccountCreated, result.Message)
	require.NotNil(t, result.User.EmailConfirmedAt)

	profile, err := f.profiles.Get(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", profile.FullName)
	assert.True(t, profile.IsActive)
	assert.False(t, profile.IsAdmin)
}

func TestSignupReplacesExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Signup(ctx, domain.Request{Email: "again@x.co", Password: "secret1", FullName: "First"})
	require.NoError(t, err)
	_, err = f.profiles.SetAdmin(ctx, first.User.ID, true)
	require.NoError(t, err)

	second, err := f.svc.Signup(ctx, domain.Request{Email: "again@x.co", Password: "secret2", FullName: "Second"})
	require.NoError(t, err)
	assert.NotEqual(t, first.User.ID, second.User.ID)

	_, err = f.auth.GetUser(ctx, first.User.ID)
	assert.ErrorIs(t, err, authdomain.ErrUserNotFound)
	_, err = f.profiles.Get(ctx, first.User.ID)
	assert.ErrorIs(t, err, profiledomain.ErrProfileNotFound)

	profile, err := f.profiles.Get(ctx, second.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", profile.FullName)
	assert.False(t, profile.IsAdmin)

	user, err := f.auth.FindUserByEmail(ctx, "again@x.co")
	require.NoError(t, err)
	assert.NoError(t, f.auth.VerifyPassword(ctx, user, "secret2"))
	assert.ErrorIs(t, f.auth.VerifyPassword(ctx, user, "secret1"), authdomain.ErrInvalidCredentials)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, domain.Request{Email: "not-an-email", Password: "secret1"})
	assert.ErrorIs(t, err, authdomain.ErrInvalidEmail)
	_, err = f.svc.Signup(ctx, domain.Request{Email: "a@x.co"})
	assert.ErrorIs(t, err, authdomain.ErrPasswordRequired)
	_, err = f.svc.Signup(ctx, domain.Request{Email: "a@x.co", Password: "123"})
	assert.ErrorIs(t, err, authdomain.ErrPasswordTooShort)
}

func TestSignupRejectedPasswordKeepsExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Signup(ctx, domain.Request{Email: "keep@x.co", Password: "secret1"})
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, domain.Request{Email: "keep@x.co", Password: "abc"})
	assert.ErrorIs(t, err, authdomain.ErrPasswordTooShort)
	_, err = f.svc.Signup(ctx, domain.Request{Email: "keep@x.co"})
	assert.ErrorIs(t, err, authdomain.ErrPasswordRequired)

	user, err := f.auth.FindUserByEmail(ctx, "keep@x.co")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, user.ID)
	assert.NoError(t, f.auth.VerifyPassword(ctx, user, "secret1"))
	_, err = f.profiles.Get(ctx, first.User.ID)
	assert.NoError(t, err)
}

type failingCreate struct {
	authdomain.Service
}

func (failingCreate) CreateUser(context.Context, authdomain.CreateUserRequest) (*authdomain.User, error) {
	return nil, errors.New("users table locked")
}

func TestSignupReplacementRollsBackWhenCreateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Signup(ctx, domain.Request{Email: "keep@x.co", Password: "secret1"})
	require.NoError(t, err)

	f.svc.(*service).authsvc = failingCreate{Service: f.auth}
	_, err = f.svc.Signup(ctx, domain.Request{Email: "keep@x.co", Password: "secret2"})
	require.Error(t, err)

	user, err := f.auth.FindUserByEmail(ctx, "keep@x.co")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, user.ID)
	assert.NoError(t, f.auth.VerifyPassword(ctx, user, "secret1"))
	_, err = f.profiles.Get(ctx, first.User.ID)
	assert.NoError(t, err)
}

type failingProvisioner struct{}

func (failingProvisioner) Provision(context.Context, *authdomain.User) error {
	return errors.New("profiles unavailable")
}

func TestSignupSurvivesProvisioningFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.(*service).provisioner = failingProvisioner{}

	result, err := f.svc.Signup(context.Background(), domain.Request{Email: "p@x.co", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageAccountCreated, result.Message)
}

func TestResendVerificationUnknownEmailDoesNotEnumerate(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.ResendVerification(context.Background(), domain.LinkRequest{Email: "ghost@x.co"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageNoEnumeration, msg)
}

func TestResendVerificationAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, domain.Request{Email: "done@x.co", Password: "secret1"})
	require.NoError(t, err)

	_, err = f.svc.ResendVerification(ctx, domain.LinkRequest{Email: "done@x.co"})
	assert.ErrorIs(t, err, domain.ErrEmailAlreadyVerified)
}

func TestResendVerificationSendsMagicLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.auth.CreateUser(ctx, authdomain.CreateUserRequest{Email: "pending@x.co", Password: "secret1", FullName: "Pat"})
	require.NoError(t, err)

	var sent email.Message
	f.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m email.Message) error {
		sent = m
		return nil
	})

	msg, err := f.svc.ResendVerification(ctx, domain.LinkRequest{Email: "pending@x.co", Origin: "http://app.test"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageVerificationSent, msg)
	assert.Equal(t, email.SubjectVerifyEmail, sent.Subject)
	assert.Equal(t, "pending@x.co", sent.To)
	assert.Contains(t, sent.HTML, "Hi Pat,")

	link, ok := email.ExtractLink(sent.HTML)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(link, "http://localhost:4000/api/auth/verify?"))
	assert.Contains(t, link, "type=magiclink")

	token := tokenFromLink(t, link)
	confirmed, err := f.auth.ConsumeLink(ctx, token, authdomain.LinkTypeMagicLink)
	require.NoError(t, err)
	assert.Equal(t, user.ID, confirmed.ID)
	assert.NotNil(t, confirmed.EmailConfirmedAt)
}

func TestResendVerificationDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.CreateUser(ctx, authdomain.CreateUserRequest{Email: "fail@x.co", Password: "secret1"})
	require.NoError(t, err)

	f.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	_, err = f.svc.ResendVerification(ctx, domain.LinkRequest{Email: "fail@x.co"})
	assert.ErrorIs(t, err, domain.ErrEmailDelivery)
}

func TestRequestPasswordResetAlwaysSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.RequestPasswordReset(ctx, domain.LinkRequest{Email: "nobody@x.co"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageResetSent, msg)

	_, err = f.svc.Signup(ctx, domain.Request{Email: "reset@x.co", Password: "secret1"})
	require.NoError(t, err)
	f.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m email.Message) error {
		assert.Equal(t, email.SubjectResetPassword, m.Subject)
		return errors.New("smtp down")
	})

	msg, err = f.svc.RequestPasswordReset(ctx, domain.LinkRequest{Email: "reset@x.co"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageResetSent, msg)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	idx := strings.Index(link, "token=")
	require.GreaterOrEqual(t, idx, 0)
	rest := link[idx+len("token="):]
	if end := strings.Index(rest, "&"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
