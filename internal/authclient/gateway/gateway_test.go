package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/authclient/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"type": "x", "message": message}})
}

func sessionBody(access, refresh string) map[string]any {
	return map[string]any{
		"success": true,
		"session": map[string]any{
			"access_token": access, "refresh_token": refresh,
			"expires_in": 3600, "expires_at": time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC).Unix(), "token_type": "bearer",
		},
		"user": map[string]any{"id": "u1", "email": "a@example.com", "user_metadata": map[string]any{"full_name": "Alice"}},
	}
}

func newTestGateway(t *testing.T, mux *http.ServeMux) (*Gateway, sessionstore.Store) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	store := sessionstore.NewMemoryStore()
	gw, err := New(Params{Config: Config{BaseURL: srv.URL, Origin: "http://app.test"}, Store: store, Log: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw, store
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 16)}
}

func (r *recorder) handle(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []domain.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func TestSignInPersistsAndEmits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body["email"])
		writeJSON(w, http.StatusOK, sessionBody("acc-1", "ref-1"))
	})
	gw, store := newTestGateway(t, mux)
	rec := newRecorder()
	unsubscribe := gw.OnAuthStateChange(rec.handle)
	defer unsubscribe()

	res, err := gw.SignIn(context.Background(), "a@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", res.Session.AccessToken)
	assert.Equal(t, "Alice", res.User.FullName())

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ref-1", stored.Session.RefreshToken)

	events := rec.wait(t, 1)
	assert.Equal(t, domain.EventSignedIn, events[0].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, "acc-1", events[0].Session.AccessToken)
}

func TestErrorKindsAndVerbatimMessages(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		kind   Kind
	}{
		{http.StatusBadRequest, "Invalid email address", KindValidation},
		{http.StatusUnauthorized, "Invalid email or password", KindAuthentication},
		{http.StatusForbidden, "Your account has been deactivated. Please contact an administrator.", KindAuthorization},
		{http.StatusNotFound, "Profile not found", KindNotFound},
		{http.StatusInternalServerError, "", KindUpstream},
	}
	for _, tc := range cases {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
			if tc.msg == "" {
				w.WriteHeader(tc.status)
				return
			}
			writeError(w, tc.status, tc.msg)
		})
		gw, store := newTestGateway(t, mux)

		_, err := gw.SignIn(context.Background(), "a@example.com", "x")
		require.Error(t, err)
		assert.Equal(t, tc.kind, KindOf(err))
		if tc.msg != "" {
			assert.Equal(t, tc.msg, err.Error())
		} else {
			assert.Equal(t, messageTryAgain, Message(err))
		}
		stored, _ := store.Load()
		assert.Nil(t, stored)
	}
}

func TestServerFailureTextIsNotShown(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable} {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, status, `pq: relation "sessions" does not exist`)
		})
		gw, _ := newTestGateway(t, mux)

		_, err := gw.SignIn(context.Background(), "a@example.com", "x")
		require.Error(t, err)
		assert.Equal(t, KindUpstream, KindOf(err))
		assert.Equal(t, messageTryAgain, Message(err))
		assert.NotContains(t, err.Error(), "pq:")
	}
}

func TestRateLimitKeepsProviderMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
	})
	gw, _ := newTestGateway(t, mux)

	_, err := gw.SignIn(context.Background(), "a@example.com", "x")
	assert.True(t, IsKind(err, KindUpstream))
	assert.Equal(t, "Too many attempts. Please try again later.", Message(err))
}

func TestTransportFailureIsUpstream(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	gw, err := New(Params{Config: Config{BaseURL: "http://127.0.0.1:1"}, Store: store})
	require.NoError(t, err)
	defer gw.Close()

	_, err = gw.SignIn(context.Background(), "a@example.com", "x")
	assert.True(t, IsKind(err, KindUpstream))
	assert.Equal(t, messageUnreachable, Message(err))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Params{Store: sessionstore.NewMemoryStore()})
	assert.True(t, IsKind(err, KindConfiguration))
}

func TestSignOutKeepsSessionOnFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		if fail.Load() {
			writeError(w, http.StatusBadGateway, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	gw, store := newTestGateway(t, mux)
	require.NoError(t, store.Save(sessionstore.Stored{
		Session: domain.Session{AccessToken: "acc-1", RefreshToken: "ref-1"},
		User:    domain.Identity{ID: "u1"},
	}))
	rec := newRecorder()
	gw.OnAuthStateChange(rec.handle)

	err := gw.SignOut(context.Background())
	assert.True(t, IsKind(err, KindUpstream))
	stored, _ := store.Load()
	assert.NotNil(t, stored)

	fail.Store(false)
	require.NoError(t, gw.SignOut(context.Background()))
	stored, _ = store.Load()
	assert.Nil(t, stored)
	events := rec.wait(t, 1)
	assert.Equal(t, domain.EventSignedOut, events[0].Kind)
	assert.Nil(t, events[0].Session)
}

func TestSignOutTreatsRevokedTokenAsDone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "Session revoked")
	})
	gw, store := newTestGateway(t, mux)
	require.NoError(t, store.Save(sessionstore.Stored{Session: domain.Session{AccessToken: "acc"}, User: domain.Identity{ID: "u1"}}))

	require.NoError(t, gw.SignOut(context.Background()))
	stored, _ := store.Load()
	assert.Nil(t, stored)
}

func TestRefreshRotatesStoredSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "ref-1" {
			writeError(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}
		writeJSON(w, http.StatusOK, sessionBody("acc-2", "ref-2"))
	})
	gw, store := newTestGateway(t, mux)

	_, err := gw.RefreshSession(context.Background())
	assert.True(t, IsKind(err, KindAuthentication))

	require.NoError(t, store.Save(sessionstore.Stored{Session: domain.Session{AccessToken: "acc-1", RefreshToken: "ref-1"}, User: domain.Identity{ID: "u1"}}))
	rec := newRecorder()
	gw.OnAuthStateChange(rec.handle)

	res, err := gw.RefreshSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc-2", res.Session.AccessToken)
	current, err := gw.GetCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ref-2", current.Session.RefreshToken)
	assert.Equal(t, domain.EventTokenRefreshed, rec.wait(t, 1)[0].Kind)
}

func TestProfileAndAdminCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/u1/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"profile": map[string]any{"id": "u1", "email": "a@example.com", "full_name": "Alice", "is_active": true}})
	})
	mux.HandleFunc("PATCH /api/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"full_name": "Al"}, body)
		writeJSON(w, http.StatusOK, map[string]any{"profile": map[string]any{"id": "u1", "email": "a@example.com", "full_name": "Al", "is_active": true, "is_admin": true}})
	})
	mux.HandleFunc("POST /api/admin/users/u2/revoke-sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": 3})
	})
	mux.HandleFunc("GET /api/admin/sessions/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"stats": map[string]any{"total_active_sessions": 4, "unique_active_users": 2}})
	})
	mux.HandleFunc("POST /api/users/initialize-defaults", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"stats": map[string]any{"categories": 5, "paymentMethods": 3}})
	})
	gw, store := newTestGateway(t, mux)

	_, err := gw.GetUserProfile(context.Background(), "u1")
	assert.True(t, IsKind(err, KindAuthentication), "no stored session")

	require.NoError(t, store.Save(sessionstore.Stored{Session: domain.Session{AccessToken: "acc"}, User: domain.Identity{ID: "u1"}}))
	profile, err := gw.GetUserProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, profile.IsActive)

	name := "Al"
	updated, err := gw.UpdateUserProfile(context.Background(), domain.ProfileUpdate{FullName: &name})
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)

	count, err := gw.RevokeUserSessions(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	stats, err := gw.GetSessionStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalActiveSessions)

	defaults, err := gw.InitializeDefaults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, defaults.PaymentMethods)
}

func TestResendSendsOrigin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/resend-verification", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://app.test", r.Header.Get("Origin"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Verification email sent. Please check your inbox."})
	})
	gw, _ := newTestGateway(t, mux)

	msg, err := gw.ResendVerification(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Verification email sent. Please check your inbox.", msg)
}

func TestEventsDeliveredInOrderPerSubscriber(t *testing.T) {
	gw, _ := newTestGateway(t, http.NewServeMux())
	slow := newRecorder()
	fast := newRecorder()
	block := make(chan struct{})
	gw.OnAuthStateChange(func(ev domain.Event) {
		<-block
		slow.handle(ev)
	})
	gw.OnAuthStateChange(fast.handle)

	kinds := []domain.EventKind{domain.EventSignedIn, domain.EventTokenRefreshed, domain.EventUserUpdated, domain.EventSignedOut}
	for _, k := range kinds {
		gw.emit(k, nil)
	}

	got := fast.wait(t, len(kinds))
	close(block)
	gotSlow := slow.wait(t, len(kinds))
	for i, k := range kinds {
		assert.Equal(t, k, got[i].Kind)
		assert.Equal(t, k, gotSlow[i].Kind)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	gw, _ := newTestGateway(t, http.NewServeMux())
	rec := newRecorder()
	unsubscribe := gw.OnAuthStateChange(rec.handle)
	gw.emit(domain.EventSignedIn, nil)
	rec.wait(t, 1)

	unsubscribe()
	gw.emit(domain.EventSignedOut, nil)
	select {
	case <-rec.signal:
		t.Fatalf("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	gw, _ := newTestGateway(t, http.NewServeMux())
	rec := newRecorder()
	gw.OnAuthStateChange(func(ev domain.Event) {
		if ev.Kind == domain.EventSignedIn {
			panic("boom")
		}
		rec.handle(ev)
	})
	gw.emit(domain.EventSignedIn, nil)
	gw.emit(domain.EventSignedOut, nil)
	events := rec.wait(t, 1)
	assert.Equal(t, domain.EventSignedOut, events[0].Kind)
}
