package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	adminsessionsservice "github.com/smallbiznis/fintrack/internal/adminsessions/service"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	authrepo "github.com/smallbiznis/fintrack/internal/auth/repository"
	authservice "github.com/smallbiznis/fintrack/internal/auth/service"
	"github.com/smallbiznis/fintrack/internal/authorization"
	"github.com/smallbiznis/fintrack/internal/config"
	defaultsservice "github.com/smallbiznis/fintrack/internal/defaults/service"
	"github.com/smallbiznis/fintrack/internal/migration"
	"github.com/smallbiznis/fintrack/internal/observability"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	profileservice "github.com/smallbiznis/fintrack/internal/profile/service"
	"github.com/smallbiznis/fintrack/internal/providers/email"
	"github.com/smallbiznis/fintrack/internal/ratelimit"
	"github.com/smallbiznis/fintrack/internal/signin"
	"github.com/smallbiznis/fintrack/internal/signup"
	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(t *testing.T) email.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no email sent")
	return o.sent[len(o.sent)-1]
}

type testServer struct {
	srv      *Server
	auth     authdomain.Service
	profiles profiledomain.Service
	mail     *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	cfg := config.Config{
		PublicURL: "http://api.test",
		RateLimit: config.RateLimitConfig{SigninRate: 0.01, SigninBurst: 8, LockTTL: time.Second},
		Auth:      config.AuthConfig{ExpiringSoon: time.Hour},
	}
	settings := authdomain.Settings{AccessTokenTTL: time.Hour, SessionTTL: 24 * time.Hour, LinkTTL: time.Hour}

	repo, sessions, links := authrepo.New(conn)
	auth := authservice.New(authservice.Params{Log: log, Repo: repo, SessionRepo: sessions, LinkRepo: links, GenID: node, Settings: settings})
	profiles := profileservice.New(profileservice.Params{DB: conn, Log: log})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, Profiles: profiles})
	mail := &outbox{}

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}, nil),
		Cfg:        cfg,
		Log:        log,
		Authsvc:    auth,
		AuthzSvc:   authz,
		ProfileSvc: profiles,
		DefaultsSvc: defaultsservice.New(defaultsservice.Params{
			DB: conn, Log: log, GenID: node,
		}),
		SignupSvc: signup.NewService(signup.Params{
			Log: log, Auth: auth, Profiles: profiles, Provisioner: signup.NewProfileProvisioner(profiles),
			Mailer: mail, Config: cfg, Settings: settings, DB: conn,
		}),
		SigninSvc:     signin.NewService(signin.Params{Log: log, Auth: auth, Profiles: profiles}),
		AdminSessions: adminsessionsservice.New(adminsessionsservice.Params{DB: conn, Log: log, Config: cfg}),
		SigninLimiter: ratelimit.NewSigninLimiter(cfg, nil, log, nil),
		RevokeGuard:   ratelimit.NewRevokeGuard(cfg, ratelimit.NewLocker(nil), log),
		DB:            conn,
	})
	return &testServer{srv: srv, auth: auth, profiles: profiles, mail: mail}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	payload, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	msg, _ := payload["message"].(string)
	return msg
}

func (ts *testServer) signup(t *testing.T, emailAddr, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": emailAddr, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode(t, rec)["user"].(map[string]any)
	return user["id"].(string)
}

func (ts *testServer) signin(t *testing.T, emailAddr, password string) (string, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": emailAddr, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode(t, rec)["session"].(map[string]any)
	return session["access_token"].(string), session["refresh_token"].(string)
}

func (ts *testServer) makeAdmin(t *testing.T, userID string) {
	t.Helper()
	_, err := ts.profiles.SetAdmin(context.Background(), userID, true)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupThenSignin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{"email": "New@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["requiresVerification"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "new@example.com", user["email"])
	assert.NotNil(t, user["email_confirmed_at"])
	assert.Equal(t, "new", user["user_metadata"].(map[string]any)["full_name"])

	profile, err := ts.profiles.Get(context.Background(), user["id"].(string))
	require.NoError(t, err)
	assert.True(t, profile.IsActive)
	assert.False(t, profile.IsAdmin)

	rec = ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "new@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode(t, rec)["session"].(map[string]any)
	assert.Equal(t, "bearer", session["token_type"])
	assert.EqualValues(t, 3600, session["expires_in"])
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		body gin.H
		msg  string
	}{
		{gin.H{"email": "nope", "password": "secret1"}, "Invalid email address"},
		{gin.H{"email": "a@b.co", "password": ""}, "Password is required"},
		{gin.H{"email": "a@b.co", "password": "12345"}, "Password must be at least 6 characters"},
	}
	for _, tc := range cases {
		rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, tc.msg, errorMessage(t, rec))
	}
}

func TestSigninMessages(t *testing.T) {
	ts := newTestServer(t)
	id := ts.signup(t, "user@example.com", "secret1")

	unknown := ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "ghost@example.com", "password": "secret1"})
	wrong := ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "user@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, MessageInvalidCredentials, errorMessage(t, unknown))
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())

	_, err := ts.profiles.SetActive(context.Background(), id, false)
	require.NoError(t, err)
	off := ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "user@example.com", "password": "nope"})
	assert.Equal(t, http.StatusForbidden, off.Code)
	assert.Equal(t, MessageDeactivated, errorMessage(t, off))
}

func TestSigninRateLimited(t *testing.T) {
	ts := newTestServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 9; i++ {
		last = ts.do(t, http.MethodPost, "/api/auth/signin", "", gin.H{"email": "ghost@example.com", "password": "x"})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestSessionRefreshAndSignout(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "user@example.com", "secret1")
	access, refresh := ts.signin(t, "user@example.com", "secret1")

	rec := ts.do(t, http.MethodGet, "/api/auth/session", access, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decode(t, rec)["session"].(map[string]any)["access_token"].(string)
	assert.NotEqual(t, access, rotated)

	rec = ts.do(t, http.MethodPost, "/api/auth/refresh", "", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/signout", rotated, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/auth/session", rotated, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResendVerification(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/resend-verification", "", gin.H{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.mail.sent)

	ts.signup(t, "user@example.com", "secret1")
	rec = ts.do(t, http.MethodPost, "/api/auth/resend-verification", "", gin.H{"email": "user@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email is already verified. You can sign in.", errorMessage(t, rec))
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "user@example.com", "secret1")

	rec := ts.do(t, http.MethodPost, "/api/auth/password/reset", "", gin.H{"email": "user@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	msg := ts.mail.last(t)
	assert.Equal(t, email.SubjectResetPassword, msg.Subject)

	link, ok := email.ExtractLink(msg.HTML)
	require.True(t, ok)
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	q := parsed.Query()
	q.Del("redirect_to")

	rec = ts.do(t, http.MethodGet, "/api/auth/verify?"+q.Encode(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	access := decode(t, rec)["session"].(map[string]any)["access_token"].(string)

	rec = ts.do(t, http.MethodPut, "/api/auth/password", access, gin.H{"password": "newsecret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts.signin(t, "user@example.com", "newsecret")

	rec = ts.do(t, http.MethodGet, "/api/auth/verify?"+q.Encode(), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired link", errorMessage(t, rec))
}

func TestVerifyRedirectsWhenRequested(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	user, err := ts.auth.CreateUser(ctx, authdomain.CreateUserRequest{Email: "pending@example.com", Password: "secret1"})
	require.NoError(t, err)
	raw, _, err := ts.auth.CreateLink(ctx, user.ID, authdomain.LinkTypeSignup, "")
	require.NoError(t, err)

	q := url.Values{"token": {raw}, "type": {"signup"}, "redirect_to": {"http://app.test/auth/callback"}}
	rec := ts.do(t, http.MethodGet, "/api/auth/verify?"+q.Encode(), "", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://app.test/auth/callback?verified=true", rec.Header().Get("Location"))

	confirmed, err := ts.auth.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, confirmed.EmailConfirmedAt)
}

func TestProfileAccess(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice@example.com", "secret1")
	bob := ts.signup(t, "bob@example.com", "secret1")
	aliceToken, _ := ts.signin(t, "alice@example.com", "secret1")

	rec := ts.do(t, http.MethodGet, "/api/users/"+alice+"/profile", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/users/"+bob+"/profile", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.makeAdmin(t, alice)
	rec = ts.do(t, http.MethodGet, "/api/users/"+bob+"/profile", aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/users/me/profile", aliceToken, gin.H{"full_name": "Alice A."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode(t, rec)["profile"].(map[string]any)
	assert.Equal(t, "Alice A.", profile["full_name"])
	assert.Equal(t, true, profile["is_admin"])
}

func TestInitializeDefaults(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "user@example.com", "secret1")
	token, _ := ts.signin(t, "user@example.com", "secret1")

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/users/initialize-defaults", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "Defaults initialized successfully", body["message"])
		assert.Contains(t, body["stats"], "paymentMethods")
	}
}

func TestAdminRevokeThreeSessions(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signup(t, "admin@example.com", "secret1")
	ts.makeAdmin(t, admin)
	adminToken, _ := ts.signin(t, "admin@example.com", "secret1")

	target := ts.signup(t, "user@example.com", "secret1")
	var tokens []string
	for i := 0; i < 3; i++ {
		access, _ := ts.signin(t, "user@example.com", "secret1")
		tokens = append(tokens, access)
	}

	rec := ts.do(t, http.MethodGet, "/api/admin/sessions", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["sessions"], 4)

	rec = ts.do(t, http.MethodGet, "/api/admin/sessions/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["stats"].(map[string]any)
	assert.EqualValues(t, 4, stats["total_active_sessions"])
	assert.EqualValues(t, 2, stats["unique_active_users"])

	rec = ts.do(t, http.MethodPost, "/api/admin/users/"+target+"/revoke-sessions", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 3, decode(t, rec)["count"])

	for _, token := range tokens {
		rec = ts.do(t, http.MethodGet, "/api/auth/session", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/users/"+target+"/revoke-sessions", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	id := ts.signup(t, "user@example.com", "secret1")
	token, _ := ts.signin(t, "user@example.com", "secret1")

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/admin/sessions", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/api/admin/users/"+id+"/revoke-sessions", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/admin/sessions", "", nil).Code)
}

func TestAdminDeactivateAndDelete(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signup(t, "admin@example.com", "secret1")
	ts.makeAdmin(t, admin)
	adminToken, _ := ts.signin(t, "admin@example.com", "secret1")
	target := ts.signup(t, "user@example.com", "secret1")
	userToken, _ := ts.signin(t, "user@example.com", "secret1")

	rec := ts.do(t, http.MethodPatch, "/api/admin/users/"+target+"/active", adminToken, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/users/"+target+"/profile", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["profile"].(map[string]any)["is_active"])

	rec = ts.do(t, http.MethodPatch, "/api/admin/users/"+target+"/active", adminToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/"+target, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/auth/session", userToken, nil).Code)

	_, err := ts.profiles.Get(context.Background(), target)
	assert.ErrorIs(t, err, profiledomain.ErrProfileNotFound)

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/"+target, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingProfileDelete struct {
	profiledomain.Service
}

func (failingProfileDelete) Delete(context.Context, string) error {
	return errors.New("profiles table locked")
}

func TestAdminDeleteIsAtomic(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signup(t, "admin@example.com", "secret1")
	ts.makeAdmin(t, admin)
	adminToken, _ := ts.signin(t, "admin@example.com", "secret1")
	target := ts.signup(t, "user@example.com", "secret1")
	userToken, _ := ts.signin(t, "user@example.com", "secret1")

	ts.srv.profilesvc = failingProfileDelete{Service: ts.profiles}
	rec := ts.do(t, http.MethodDelete, "/api/admin/users/"+target, adminToken, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	// the identity delete was rolled back with the failed profile delete
	user, err := ts.auth.FindUserByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, target, user.ID)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/auth/session", userToken, nil).Code)
	_, err = ts.profiles.Get(context.Background(), target)
	require.NoError(t, err)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
