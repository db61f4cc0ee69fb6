// Package gateway is the client's HTTP façade to the fintrack identity provider.
// It holds no policy: every call maps to one endpoint and the provider's messages pass through verbatim.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/authclient/sessionstore"
	"github.com/smallbiznis/fintrack/internal/clock"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL string
	// Origin is sent on email-link requests so links return to the right app.
	Origin     string
	HTTPClient *http.Client
}

type Params struct {
	Config Config
	Store  sessionstore.Store
	Log    *zap.Logger
	Clock  clock.Clock
}

type Gateway struct {
	baseURL string
	origin  string
	client  *http.Client
	store   sessionstore.Store
	log     *zap.Logger
	clock   clock.Clock
	events  *dispatcher
}

func New(p Params) (*Gateway, error) {
	base := strings.TrimRight(strings.TrimSpace(p.Config.BaseURL), "/")
	if base == "" {
		return nil, &Error{Kind: KindConfiguration, Message: "server URL is not configured"}
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, &Error{Kind: KindConfiguration, Message: "server URL is invalid", Err: err}
	}
	if p.Store == nil {
		return nil, &Error{Kind: KindConfiguration, Message: "session store is required"}
	}
	client := p.Config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	log = log.Named("authclient.gateway")
	return &Gateway{
		baseURL: base,
		origin:  strings.TrimSpace(p.Config.Origin),
		client:  client,
		store:   p.Store,
		log:     log,
		clock:   c,
		events:  newDispatcher(log),
	}, nil
}

// OnAuthStateChange registers handler for auth events and returns the unsubscribe function.
func (g *Gateway) OnAuthStateChange(handler func(domain.Event)) func() {
	return g.events.subscribe(handler)
}

// Close stops event delivery. It must not be called from an event handler.
func (g *Gateway) Close() {
	g.events.close()
}

type wireSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

func (w wireSession) toDomain() domain.Session {
	return domain.Session{
		AccessToken:  w.AccessToken,
		RefreshToken: w.RefreshToken,
		ExpiresAt:    time.Unix(w.ExpiresAt, 0).UTC(),
		TokenType:    w.TokenType,
	}
}

type authEnvelope struct {
	Message string           `json:"message"`
	Session *wireSession     `json:"session"`
	User    *domain.Identity `json:"user"`
}

func (e authEnvelope) result() (*domain.AuthResult, error) {
	if e.Session == nil || e.User == nil || e.Session.AccessToken == "" {
		return nil, &Error{Kind: KindUpstream, Message: messageTryAgain, Err: errors.New("response without session")}
	}
	return &domain.AuthResult{Session: e.Session.toDomain(), User: *e.User}, nil
}

type messageEnvelope struct {
	Message string `json:"message"`
}

func (g *Gateway) SignUp(ctx context.Context, email, password, fullName string) (*domain.SignUpResult, error) {
	var out struct {
		Message              string          `json:"message"`
		RequiresVerification bool            `json:"requiresVerification"`
		User                 domain.Identity `json:"user"`
	}
	body := map[string]string{"email": email, "password": password, "fullName": fullName}
	if err := g.send(ctx, http.MethodPost, "/api/auth/signup", "", body, &out); err != nil {
		return nil, err
	}
	return &domain.SignUpResult{Message: out.Message, RequiresVerification: out.RequiresVerification, User: out.User}, nil
}

// SignIn stores the new session and emits SIGNED_IN.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	var out authEnvelope
	body := map[string]string{"email": email, "password": password}
	if err := g.send(ctx, http.MethodPost, "/api/auth/signin", "", body, &out); err != nil {
		return nil, err
	}
	res, err := out.result()
	if err != nil {
		return nil, err
	}
	if err := g.persist(res, domain.EventSignedIn); err != nil {
		return nil, err
	}
	return res, nil
}

// SignOut revokes the stored session remotely, then clears it and emits SIGNED_OUT.
// When the remote call fails the stored session is left in place.
func (g *Gateway) SignOut(ctx context.Context) error {
	stored, err := g.load()
	if err != nil {
		return err
	}
	if stored != nil {
		if err := g.RevokeToken(ctx, stored.Session.AccessToken); err != nil && !IsKind(err, KindAuthentication) {
			return err
		}
	}
	if err := g.store.Clear(); err != nil {
		return &Error{Kind: KindConfiguration, Message: "Unable to clear the stored session", Err: err}
	}
	g.emit(domain.EventSignedOut, nil)
	return nil
}

// RevokeToken ends the server session behind an access token. No event is emitted.
func (g *Gateway) RevokeToken(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return notSignedIn()
	}
	return g.send(ctx, http.MethodPost, "/api/auth/signout", accessToken, nil, nil)
}

// RefreshSession rotates the stored token pair and emits TOKEN_REFRESHED.
func (g *Gateway) RefreshSession(ctx context.Context) (*domain.AuthResult, error) {
	stored, err := g.load()
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.Session.RefreshToken == "" {
		return nil, notSignedIn()
	}
	var out authEnvelope
	body := map[string]string{"refresh_token": stored.Session.RefreshToken}
	if err := g.send(ctx, http.MethodPost, "/api/auth/refresh", "", body, &out); err != nil {
		return nil, err
	}
	res, err := out.result()
	if err != nil {
		return nil, err
	}
	if err := g.persist(res, domain.EventTokenRefreshed); err != nil {
		return nil, err
	}
	return res, nil
}

// GetCurrentSession returns the locally stored session, or nil when signed out.
func (g *Gateway) GetCurrentSession(ctx context.Context) (*domain.AuthResult, error) {
	_ = ctx
	stored, err := g.load()
	if err != nil || stored == nil {
		return nil, err
	}
	return &domain.AuthResult{Session: stored.Session, User: stored.User}, nil
}

// GetUser asks the provider for the identity behind the stored access token.
func (g *Gateway) GetUser(ctx context.Context) (*domain.Identity, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		User domain.Identity `json:"user"`
	}
	if err := g.send(ctx, http.MethodGet, "/api/auth/session", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

type profileEnvelope struct {
	Profile domain.UserProfile `json:"profile"`
}

func (g *Gateway) GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out profileEnvelope
	if err := g.send(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/profile", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

// UpdateUserProfile applies a partial update and returns the full stored record.
func (g *Gateway) UpdateUserProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out profileEnvelope
	if err := g.send(ctx, http.MethodPatch, "/api/users/me/profile", token, update, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

func (g *Gateway) ResetPassword(ctx context.Context, email string) (string, error) {
	var out messageEnvelope
	if err := g.send(ctx, http.MethodPost, "/api/auth/password/reset", "", map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (g *Gateway) ResendVerification(ctx context.Context, email string) (string, error) {
	var out messageEnvelope
	if err := g.send(ctx, http.MethodPost, "/api/auth/resend-verification", "", map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// UpdatePassword changes the signed-in user's password and emits USER_UPDATED.
func (g *Gateway) UpdatePassword(ctx context.Context, newPassword string) error {
	stored, err := g.load()
	if err != nil {
		return err
	}
	if stored == nil {
		return notSignedIn()
	}
	body := map[string]string{"password": newPassword}
	if err := g.send(ctx, http.MethodPut, "/api/auth/password", stored.Session.AccessToken, body, nil); err != nil {
		return err
	}
	g.emit(domain.EventUserUpdated, &domain.AuthResult{Session: stored.Session, User: stored.User})
	return nil
}

// Verify consumes an emailed link. Recovery links sign the user in and emit SIGNED_IN.
func (g *Gateway) Verify(ctx context.Context, token, linkType string) (*domain.VerifyResult, error) {
	q := url.Values{"token": {token}, "type": {linkType}}
	var out authEnvelope
	if err := g.send(ctx, http.MethodGet, "/api/auth/verify?"+q.Encode(), "", nil, &out); err != nil {
		return nil, err
	}
	result := &domain.VerifyResult{Message: out.Message}
	if out.User != nil {
		result.User = *out.User
	}
	if out.Session != nil && out.Session.AccessToken != "" {
		res, err := out.result()
		if err != nil {
			return nil, err
		}
		if err := g.persist(res, domain.EventSignedIn); err != nil {
			return nil, err
		}
		session := res.Session
		result.Session = &session
	}
	return result, nil
}

func (g *Gateway) InitializeDefaults(ctx context.Context) (*domain.DefaultsStats, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		Stats domain.DefaultsStats `json:"stats"`
	}
	if err := g.send(ctx, http.MethodPost, "/api/users/initialize-defaults", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

func (g *Gateway) ListActiveSessions(ctx context.Context) ([]domain.ActiveSessionRecord, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		Sessions []domain.ActiveSessionRecord `json:"sessions"`
	}
	if err := g.send(ctx, http.MethodGet, "/api/admin/sessions", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (g *Gateway) GetSessionStats(ctx context.Context) (*domain.SessionStats, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		Stats domain.SessionStats `json:"stats"`
	}
	if err := g.send(ctx, http.MethodGet, "/api/admin/sessions/stats", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// RevokeUserSessions ends every active session of userID and returns how many were revoked.
func (g *Gateway) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	token, err := g.accessToken()
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	path := "/api/admin/users/" + url.PathEscape(userID) + "/revoke-sessions"
	if err := g.send(ctx, http.MethodPost, path, token, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (g *Gateway) SetUserActive(ctx context.Context, userID string, active bool) (*domain.UserProfile, error) {
	token, err := g.accessToken()
	if err != nil {
		return nil, err
	}
	var out profileEnvelope
	path := "/api/admin/users/" + url.PathEscape(userID) + "/active"
	if err := g.send(ctx, http.MethodPatch, path, token, map[string]bool{"is_active": active}, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

func (g *Gateway) DeleteUser(ctx context.Context, userID string) error {
	token, err := g.accessToken()
	if err != nil {
		return err
	}
	return g.send(ctx, http.MethodDelete, "/api/admin/users/"+url.PathEscape(userID), token, nil, nil)
}

func (g *Gateway) load() (*sessionstore.Stored, error) {
	stored, err := g.store.Load()
	if errors.Is(err, sessionstore.ErrCorrupt) {
		g.log.Warn("discarding unreadable stored session", zap.Error(err))
		if clearErr := g.store.Clear(); clearErr != nil {
			g.log.Warn("failed to clear unreadable session", zap.Error(clearErr))
		}
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Message: "Unable to read the stored session", Err: err}
	}
	return stored, nil
}

func (g *Gateway) accessToken() (string, error) {
	stored, err := g.load()
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", notSignedIn()
	}
	return stored.Session.AccessToken, nil
}

func (g *Gateway) persist(res *domain.AuthResult, kind domain.EventKind) error {
	if err := g.store.Save(sessionstore.Stored{Session: res.Session, User: res.User}); err != nil {
		return &Error{Kind: KindConfiguration, Message: "Unable to store the session", Err: err}
	}
	g.emit(kind, res)
	return nil
}

func (g *Gateway) emit(kind domain.EventKind, res *domain.AuthResult) {
	ev := domain.Event{ID: ulid.Make().String(), Kind: kind, At: g.clock.Now()}
	if res != nil {
		session := res.Session
		user := res.User
		ev.Session = &session
		ev.User = &user
	}
	g.log.Debug("auth event", zap.String("event", string(kind)), zap.String("event_id", ev.ID))
	g.events.emit(ev)
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "Invalid request", Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindConfiguration, Message: "Invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if g.origin != "" {
		req.Header.Set("Origin", g.origin)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Debug("request failed", zap.String("method", method), zap.String("path", redactQuery(path)), zap.Error(err))
		return &Error{Kind: KindUpstream, Message: messageUnreachable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindUpstream, Message: messageUnreachable, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		gwErr := newStatusError(resp.StatusCode, env.Error.Message)
		gwErr.Err = fmt.Errorf("%s %s: status %d", method, redactQuery(path), resp.StatusCode)
		g.log.Debug("request rejected",
			zap.String("path", redactQuery(path)),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(gwErr.Kind)),
		)
		return gwErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindUpstream, Message: messageTryAgain, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func redactQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
