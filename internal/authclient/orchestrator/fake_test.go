package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/authclient/gateway"
	"github.com/smallbiznis/fintrack/internal/authclient/sessionstore"
	"github.com/smallbiznis/fintrack/internal/clock"
)

var (
	errUnreachable  = &gateway.Error{Kind: gateway.KindUpstream, Message: "Unable to reach the server. Please try again."}
	errUnauthorized = &gateway.Error{Kind: gateway.KindAuthentication, Status: 401, Message: "Invalid or expired session"}
	errForbidden    = &gateway.Error{Kind: gateway.KindAuthorization, Status: 403, Message: "Account is deactivated"}
	errNoProfile    = &gateway.Error{Kind: gateway.KindNotFound, Status: 404, Message: "Profile not found"}
	errBadLogin     = &gateway.Error{Kind: gateway.KindAuthentication, Status: 401, Message: "Invalid email or password"}
)

// fakeGateway mimics the real gateway's store handling without HTTP. Events are only
// delivered when a test calls fire.
type fakeGateway struct {
	mu    sync.Mutex
	store sessionstore.Store
	clock clock.Clock

	handler  func(domain.Event)
	profiles map[string]domain.UserProfile

	profileErrs []error
	profileErr  error
	profileGate chan struct{}
	signInErr   error
	signOutErr  error
	refreshErr  error
	revokeErr   error
	defaultsErr error
	ttl         time.Duration

	seq     int
	calls   map[string]int
	revoked []string
}

func newFakeGateway(store sessionstore.Store, c clock.Clock) *fakeGateway {
	return &fakeGateway{
		store:    store,
		clock:    c,
		profiles: make(map[string]domain.UserProfile),
		calls:    make(map[string]int),
		ttl:      time.Hour,
	}
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGateway) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *fakeGateway) fire(ev domain.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (f *fakeGateway) newSession() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return domain.Session{
		AccessToken:  fmt.Sprintf("access-%d", f.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", f.seq),
		ExpiresAt:    f.clock.Now().Add(f.ttl),
		TokenType:    "bearer",
	}
}

func (f *fakeGateway) OnAuthStateChange(handler func(domain.Event)) func() {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *fakeGateway) SignUp(ctx context.Context, email, password, fullName string) (*domain.SignUpResult, error) {
	f.record("SignUp")
	return &domain.SignUpResult{Message: "Account created. Please check your email to verify your account.", RequiresVerification: true}, nil
}

func (f *fakeGateway) SignIn(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	f.record("SignIn")
	f.mu.Lock()
	err := f.signInErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	res := &domain.AuthResult{Session: f.newSession(), User: domain.Identity{ID: "u1", Email: email}}
	if err := f.store.Save(sessionstore.Stored{Session: res.Session, User: res.User}); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeGateway) SignOut(ctx context.Context) error {
	f.record("SignOut")
	f.mu.Lock()
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.store.Clear()
}

func (f *fakeGateway) RevokeToken(ctx context.Context, accessToken string) error {
	f.record("RevokeToken")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, accessToken)
	return nil
}

func (f *fakeGateway) RefreshSession(ctx context.Context) (*domain.AuthResult, error) {
	f.record("RefreshSession")
	f.mu.Lock()
	err := f.refreshErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	stored, err := f.store.Load()
	if err != nil || stored == nil {
		return nil, errUnauthorized
	}
	res := &domain.AuthResult{Session: f.newSession(), User: stored.User}
	if err := f.store.Save(sessionstore.Stored{Session: res.Session, User: res.User}); err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeGateway) GetCurrentSession(ctx context.Context) (*domain.AuthResult, error) {
	stored, err := f.store.Load()
	if err != nil || stored == nil {
		return nil, err
	}
	return &domain.AuthResult{Session: stored.Session, User: stored.User}, nil
}

func (f *fakeGateway) GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	f.record("GetUserProfile")
	f.mu.Lock()
	gate := f.profileGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.profileErrs) > 0 {
		err := f.profileErrs[0]
		f.profileErrs = f.profileErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, errNoProfile
	}
	return &p, nil
}

func (f *fakeGateway) UpdateUserProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	f.record("UpdateUserProfile")
	stored, _ := f.store.Load()
	if stored == nil {
		return nil, errUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[stored.User.ID]
	if update.FullName != nil {
		p.FullName = *update.FullName
	}
	f.profiles[stored.User.ID] = p
	// the provider echoes only id and full_name
	return &domain.UserProfile{ID: p.ID, FullName: p.FullName, IsActive: p.IsActive}, nil
}

func (f *fakeGateway) ResetPassword(ctx context.Context, email string) (string, error) {
	f.record("ResetPassword")
	return "If an account exists for that email, a reset link has been sent.", nil
}

func (f *fakeGateway) UpdatePassword(ctx context.Context, newPassword string) error {
	f.record("UpdatePassword")
	return nil
}

func (f *fakeGateway) InitializeDefaults(ctx context.Context) (*domain.DefaultsStats, error) {
	f.record("InitializeDefaults")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.defaultsErr != nil {
		return nil, f.defaultsErr
	}
	return &domain.DefaultsStats{Categories: 12, PaymentMethods: 4}, nil
}
