package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fintrack/internal/adminsessions/domain"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	authrepo "github.com/smallbiznis/fintrack/internal/auth/repository"
	authservice "github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/clock"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	auth  authdomain.Service
	svc   domain.Service
	clock *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}, &authdomain.Link{}, &profiledomain.Profile{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo, sessions, links := authrepo.New(conn)
	auth := authservice.New(authservice.Params{
		Log: zap.NewNop(), Repo: repo, SessionRepo: sessions, LinkRepo: links, GenID: node, Clock: fake,
		Settings: authdomain.Settings{AccessTokenTTL: time.Hour, SessionTTL: 7 * 24 * time.Hour},
	})
	svc := New(Params{DB: conn, Log: zap.NewNop(), Clock: fake})
	return &fixture{db: conn, auth: auth, svc: svc, clock: fake}
}

func (f *fixture) user(t *testing.T, email, fullName string) *authdomain.User {
	t.Helper()
	u, err := f.auth.CreateUser(context.Background(), authdomain.CreateUserRequest{Email: email, Password: "secret1", FullName: fullName, Confirmed: true})
	require.NoError(t, err)
	return u
}

func (f *fixture) signin(t *testing.T, u *authdomain.User) *authdomain.TokenPair {
	t.Helper()
	pair, err := f.auth.IssueSession(context.Background(), u, authdomain.ClientMeta{})
	require.NoError(t, err)
	return pair
}

func TestListActiveOrderAndFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice@x.co", "Alice")
	bob := f.user(t, "bob@x.co", "")
	require.NoError(t, f.db.Create(&profiledomain.Profile{ID: bob.ID, Email: bob.Email, FullName: "Bobby", IsActive: false}).Error)

	f.signin(t, alice)
	f.clock.Advance(time.Minute)
	f.signin(t, bob)
	f.clock.Advance(time.Minute)
	revoked := f.signin(t, alice)
	require.NoError(t, f.auth.Logout(ctx, revoked.AccessToken))

	records, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, bob.ID, records[0].UserID)
	assert.Equal(t, "Bobby", records[0].FullName)
	assert.False(t, records[0].UserIsActive)

	assert.Equal(t, alice.ID, records[1].UserID)
	assert.Equal(t, "Alice", records[1].FullName)
	assert.True(t, records[1].UserIsActive, "missing profile counts as active")
	assert.Equal(t, domain.StatusActive, records[1].Status)
	assert.InDelta(t, 7*24-2.0/60, records[1].HoursUntilExpiry, 0.01)
}

func TestExpiringSoonAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice@x.co", "")
	bob := f.user(t, "bob@x.co", "")
	f.signin(t, alice)
	f.clock.Advance(2 * time.Hour)
	f.signin(t, alice)
	f.signin(t, bob)

	// First session now has 30 minutes left.
	f.clock.Advance(7*24*time.Hour - 2*time.Hour - 30*time.Minute)

	records, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.StatusExpiringSoon, records[2].Status)
	assert.InDelta(t, 0.5, records[2].HoursUntilExpiry, 0.01)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalActiveSessions)
	assert.EqualValues(t, 2, stats.UniqueActiveUsers)
	assert.EqualValues(t, 1, stats.SessionsExpiringSoon)
	assert.Greater(t, stats.AvgSessionAgeHours, 0.0)
}

func TestStatsEmpty(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStats{}, stats)
}

func TestRevokedUserDisappears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "c@x.co", "")
	for i := 0; i < 3; i++ {
		f.signin(t, u)
	}

	count, err := f.auth.RevokeUserSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	records, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
