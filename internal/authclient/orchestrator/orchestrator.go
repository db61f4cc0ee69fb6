// Package orchestrator owns the client-side auth state machine. It reconciles the stored
// session with the provider's profile record, forces sign-out when the account is gone or
// deactivated, and keeps a periodic liveness check running while signed in.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
	"github.com/smallbiznis/fintrack/internal/authclient/gateway"
	"github.com/smallbiznis/fintrack/internal/authclient/profilecache"
	"github.com/smallbiznis/fintrack/internal/authclient/sessionstore"
	"github.com/smallbiznis/fintrack/internal/clock"
)

const (
	DefaultLivenessInterval = 5 * time.Minute
	DefaultRefreshMargin    = 30 * time.Second
)

// Gateway is the subset of the auth gateway the orchestrator drives.
type Gateway interface {
	OnAuthStateChange(handler func(domain.Event)) func()
	SignUp(ctx context.Context, email, password, fullName string) (*domain.SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (*domain.AuthResult, error)
	SignOut(ctx context.Context) error
	RevokeToken(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context) (*domain.AuthResult, error)
	GetCurrentSession(ctx context.Context) (*domain.AuthResult, error)
	GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpdateUserProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error)
	ResetPassword(ctx context.Context, email string) (string, error)
	UpdatePassword(ctx context.Context, newPassword string) error
	InitializeDefaults(ctx context.Context) (*domain.DefaultsStats, error)
}

var _ Gateway = (*gateway.Gateway)(nil)

type Config struct {
	LivenessInterval time.Duration
	RefreshMargin    time.Duration
}

type Params struct {
	Gateway Gateway
	Store   sessionstore.Store
	Cache   *profilecache.Cache
	Log     *zap.Logger
	Clock   clock.Clock
	Config  Config
}

type Orchestrator struct {
	gw    Gateway
	store sessionstore.Store
	cache *profilecache.Cache
	log   *zap.Logger
	clock clock.Clock
	cfg   Config

	current atomic.Pointer[Snapshot]

	// mu guards epoch, watchers and every snapshot replacement.
	mu        sync.Mutex
	epoch     uint64
	watchers  map[int]chan Snapshot
	nextWatch int

	tick sync.Mutex

	bootMu sync.Mutex
	booted map[string]bool
	boot   singleflight.Group

	startOnce   sync.Once
	closeOnce   sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func New(p Params) *Orchestrator {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Clock == nil {
		p.Clock = clock.System()
	}
	if p.Cache == nil {
		p.Cache = profilecache.New(p.Clock)
	}
	if p.Config.LivenessInterval <= 0 {
		p.Config.LivenessInterval = DefaultLivenessInterval
	}
	if p.Config.RefreshMargin <= 0 {
		p.Config.RefreshMargin = DefaultRefreshMargin
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		gw:       p.Gateway,
		store:    p.Store,
		cache:    p.Cache,
		log:      p.Log.Named("orchestrator"),
		clock:    p.Clock,
		cfg:      p.Config,
		watchers: make(map[int]chan Snapshot),
		booted:   make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.current.Store(&Snapshot{State: Unauthenticated})
	return o
}

// Snapshot returns the current state without blocking.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.current.Load()
}

// Watch delivers every distinct snapshot. Slow readers only see the latest one.
func (o *Orchestrator) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	o.mu.Lock()
	id := o.nextWatch
	o.nextWatch++
	o.watchers[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			if _, ok := o.watchers[id]; ok {
				delete(o.watchers, id)
				close(ch)
			}
			o.mu.Unlock()
		})
	}
}

// Initialize restores the persisted session, if any, and starts the event subscription and
// liveness loop. It is safe to call more than once. When the provider cannot be reached the
// session is kept in Degraded and the cause is returned.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.start()
	o.retryRevokes(ctx)

	epoch := o.advance(Snapshot{State: Authenticating}, nil)

	res, err := o.gw.GetCurrentSession(ctx)
	if err != nil {
		o.log.Warn("failed to read stored session", zap.Error(err))
		o.commit(epoch, Snapshot{State: Unauthenticated}, false, nil)
		return err
	}
	if res == nil {
		o.commit(epoch, Snapshot{State: Unauthenticated}, false, nil)
		return nil
	}

	snap, applied, err := o.reconcile(ctx, epoch, res.Session, res.User)
	if !applied {
		return nil
	}
	switch snap.State {
	case Unauthenticated, Degraded:
		return err
	case Authenticated:
		o.bootstrap(ctx, snap.UserID())
	}
	return nil
}

func (o *Orchestrator) start() {
	o.startOnce.Do(func() {
		o.unsubscribe = o.gw.OnAuthStateChange(o.handleEvent)
		o.wg.Add(1)
		go o.loop()
	})
}

// Close stops the liveness loop and event handling. Watch channels are closed.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		if o.unsubscribe != nil {
			o.unsubscribe()
		}
		o.wg.Wait()

		o.mu.Lock()
		for id, ch := range o.watchers {
			delete(o.watchers, id)
			close(ch)
		}
		o.mu.Unlock()
	})
}

func (o *Orchestrator) SignUp(ctx context.Context, email, password, fullName string) (*domain.SignUpResult, error) {
	return o.gw.SignUp(ctx, email, password, fullName)
}

// SignIn authenticates and reconciles the new session before returning. A failed attempt
// leaves the state untouched.
func (o *Orchestrator) SignIn(ctx context.Context, email, password string) (Snapshot, error) {
	o.retryRevokes(ctx)

	res, err := o.gw.SignIn(ctx, email, password)
	if err != nil {
		return o.Snapshot(), err
	}

	user, session := res.User, res.Session
	epoch := o.advance(Snapshot{State: Authenticating, Identity: &user, Session: &session}, nil)

	snap, applied, err := o.reconcile(ctx, epoch, res.Session, res.User)
	if !applied {
		return o.Snapshot(), nil
	}
	switch snap.State {
	case Unauthenticated:
		return snap, err
	case Authenticated:
		o.bootstrap(ctx, snap.UserID())
	}
	return snap, nil
}

// SignOut always ends Unauthenticated. When the provider cannot be reached the token is
// queued and revoked on a later attempt, and the error is returned.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	token := o.currentToken(ctx)

	err := o.gw.SignOut(ctx)
	o.advance(Snapshot{State: Unauthenticated}, func() {
		if err != nil && token != "" {
			if qerr := o.store.QueueRevoke(token); qerr != nil {
				o.log.Error("failed to queue token revocation", zap.Error(qerr))
			}
		}
		o.clearLocal()
	})
	if err != nil {
		o.log.Warn("remote sign-out failed; revocation queued", zap.Error(err))
		return err
	}
	return nil
}

// UpdateProfile writes through to the provider and merges the result into the current snapshot.
func (o *Orchestrator) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	if o.Snapshot().Identity == nil {
		return nil, ErrNotSignedIn
	}
	returned, err := o.gw.UpdateUserProfile(ctx, update)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	cur := *o.current.Load()
	if cur.Profile == nil || cur.Profile.ID != returned.ID {
		o.cache.Put(*returned)
		return returned, nil
	}
	merged := mergeProfile(*cur.Profile, *returned, update)
	o.cache.Put(merged)
	next := cur
	next.Profile = &merged
	o.replaceLocked(next)
	return &merged, nil
}

func (o *Orchestrator) ResetPassword(ctx context.Context, email string) (string, error) {
	return o.gw.ResetPassword(ctx, email)
}

func (o *Orchestrator) UpdatePassword(ctx context.Context, newPassword string) error {
	return o.gw.UpdatePassword(ctx, newPassword)
}

// RefreshProfile re-runs reconciliation for the signed-in user.
func (o *Orchestrator) RefreshProfile(ctx context.Context) (Snapshot, error) {
	cur := o.Snapshot()
	if cur.Session == nil || cur.Identity == nil {
		return cur, ErrNotSignedIn
	}
	snap, applied, err := o.reconcile(ctx, o.currentEpoch(), *cur.Session, *cur.Identity)
	if !applied {
		return o.Snapshot(), nil
	}
	return snap, err
}

// CheckLiveness runs one liveness tick. It reports false when a previous tick is still running.
func (o *Orchestrator) CheckLiveness(ctx context.Context) bool {
	if !o.tick.TryLock() {
		o.log.Debug("liveness check still running; skipping tick")
		return false
	}
	defer o.tick.Unlock()

	o.retryRevokes(ctx)

	cur := o.Snapshot()
	if cur.State != Authenticated && cur.State != Degraded {
		return true
	}
	if cur.Session == nil || cur.Identity == nil {
		return true
	}
	snap, applied, _ := o.reconcile(ctx, o.currentEpoch(), *cur.Session, *cur.Identity)
	if applied && snap.State == Unauthenticated {
		o.log.Info("liveness check signed the user out",
			zap.String("user_id", cur.Identity.ID),
			zap.String("notice", string(snap.Notice)))
	}
	return true
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	ticker := o.clock.NewTicker(o.cfg.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C():
			o.CheckLiveness(o.ctx)
		}
	}
}

func (o *Orchestrator) handleEvent(ev domain.Event) {
	ctx := o.ctx
	if ctx.Err() != nil {
		return
	}

	if ev.Session == nil || ev.User == nil {
		if o.Snapshot().State == Unauthenticated {
			return
		}
		o.advance(Snapshot{State: Unauthenticated}, func() { o.cache.Clear() })
		return
	}

	stored, err := o.gw.GetCurrentSession(ctx)
	if err != nil || stored == nil || stored.Session.AccessToken != ev.Session.AccessToken {
		o.log.Debug("ignoring stale auth event", zap.String("event_id", ev.ID), zap.String("kind", string(ev.Kind)))
		return
	}

	snap, applied, _ := o.reconcile(ctx, o.currentEpoch(), *ev.Session, *ev.User)
	if !applied || snap.State != Authenticated {
		return
	}
	if ev.Kind == domain.EventSignedIn || ev.Kind == domain.EventUserUpdated {
		o.bootstrap(ctx, snap.UserID())
	}
}

// reconcile fetches the provider's profile for the session and applies the outcome under
// epoch. applied is false when a newer command superseded it. The error explains a
// Degraded or forced Unauthenticated result.
func (o *Orchestrator) reconcile(ctx context.Context, epoch uint64, session domain.Session, user domain.Identity) (Snapshot, bool, error) {
	refreshed := false
	if session.ExpiresWithin(o.clock.Now(), o.cfg.RefreshMargin) {
		res, err := o.gw.RefreshSession(ctx)
		switch {
		case err == nil:
			session, user, refreshed = res.Session, res.User, true
		case gateway.IsKind(err, gateway.KindAuthentication):
			return o.forceClear(ctx, epoch, session.AccessToken, NoticeSessionExpired)
		default:
			return o.degrade(ctx, epoch, session, user, err)
		}
	}

	for {
		profile, err := o.gw.GetUserProfile(ctx, user.ID)
		switch {
		case err == nil && profile.IsActive:
			snap := authenticated(user, session, *profile)
			applied := o.commit(epoch, snap, false, func() { o.cache.Put(*profile) })
			return snap, applied, nil
		case err == nil, gateway.IsKind(err, gateway.KindAuthorization):
			return o.forceClear(ctx, epoch, session.AccessToken, NoticeAccountDeactivated)
		case gateway.IsKind(err, gateway.KindNotFound):
			return o.forceClear(ctx, epoch, session.AccessToken, NoticeSessionExpired)
		case gateway.IsKind(err, gateway.KindAuthentication) && !refreshed:
			res, rerr := o.gw.RefreshSession(ctx)
			if rerr == nil {
				session, user, refreshed = res.Session, res.User, true
				continue
			}
			if gateway.IsKind(rerr, gateway.KindAuthentication) {
				return o.forceClear(ctx, epoch, session.AccessToken, NoticeSessionExpired)
			}
			return o.degrade(ctx, epoch, session, user, rerr)
		case gateway.IsKind(err, gateway.KindAuthentication):
			return o.forceClear(ctx, epoch, session.AccessToken, NoticeSessionExpired)
		default:
			return o.degrade(ctx, epoch, session, user, err)
		}
	}
}

func (o *Orchestrator) degrade(ctx context.Context, epoch uint64, session domain.Session, user domain.Identity, cause error) (Snapshot, bool, error) {
	if ctx.Err() != nil {
		return o.Snapshot(), false, cause
	}
	var profile *domain.UserProfile
	if p, _, ok := o.cache.Get(user.ID); ok {
		profile = p
	}
	snap := degraded(user, session, profile)
	applied := o.commit(epoch, snap, false, nil)
	if applied {
		o.log.Warn("profile check failed; keeping session", zap.String("user_id", user.ID), zap.Error(cause))
	}
	return snap, applied, cause
}

// forceClear ends the session locally and then revokes the token remotely, queueing it when
// the provider is unreachable.
func (o *Orchestrator) forceClear(ctx context.Context, epoch uint64, token string, notice Notice) (Snapshot, bool, error) {
	snap := Snapshot{State: Unauthenticated, Notice: notice}
	if !o.commit(epoch, snap, true, o.clearLocal) {
		return snap, false, notice.err()
	}

	if token != "" {
		err := o.gw.RevokeToken(ctx, token)
		switch {
		case err == nil, gateway.IsKind(err, gateway.KindAuthentication):
		default:
			if qerr := o.store.QueueRevoke(token); qerr != nil {
				o.log.Error("failed to queue token revocation", zap.Error(qerr))
			}
		}
	}
	return snap, true, notice.err()
}

func (o *Orchestrator) clearLocal() {
	if err := o.store.Clear(); err != nil {
		o.log.Error("failed to clear stored session", zap.Error(err))
	}
	o.cache.Clear()
}

// retryRevokes drains the revocation queue until the provider stops answering.
func (o *Orchestrator) retryRevokes(ctx context.Context) {
	tokens, err := o.store.PendingRevokes()
	if err != nil {
		o.log.Warn("failed to read revocation queue", zap.Error(err))
		return
	}
	for _, token := range tokens {
		err := o.gw.RevokeToken(ctx, token)
		switch {
		case err == nil, gateway.IsKind(err, gateway.KindAuthentication), gateway.IsKind(err, gateway.KindNotFound):
			if aerr := o.store.AckRevoke(token); aerr != nil {
				o.log.Warn("failed to ack revocation", zap.Error(aerr))
			}
		default:
			o.log.Debug("revocation retry deferred", zap.Error(err))
			return
		}
	}
}

// bootstrap seeds default data once per user. Concurrent callers share one request; a failed
// attempt is retried on the next trigger.
func (o *Orchestrator) bootstrap(ctx context.Context, userID string) {
	if userID == "" || o.bootstrapped(userID) {
		return
	}
	_, err, _ := o.boot.Do(userID, func() (any, error) {
		if o.bootstrapped(userID) {
			return nil, nil
		}
		stats, err := o.gw.InitializeDefaults(ctx)
		if err != nil {
			return nil, err
		}
		o.bootMu.Lock()
		o.booted[userID] = true
		o.bootMu.Unlock()
		o.log.Info("default data initialized",
			zap.String("user_id", userID),
			zap.Int("categories", stats.Categories),
			zap.Int("payment_methods", stats.PaymentMethods))
		return stats, nil
	})
	if err != nil {
		o.log.Warn("default data bootstrap failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (o *Orchestrator) bootstrapped(userID string) bool {
	o.bootMu.Lock()
	defer o.bootMu.Unlock()
	return o.booted[userID]
}

func (o *Orchestrator) currentToken(ctx context.Context) string {
	if res, err := o.gw.GetCurrentSession(ctx); err == nil && res != nil {
		return res.Session.AccessToken
	}
	if s := o.Snapshot().Session; s != nil {
		return s.AccessToken
	}
	return ""
}

func (o *Orchestrator) currentEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// advance starts a new epoch, discarding results of reconciliations already in flight.
func (o *Orchestrator) advance(next Snapshot, effects func()) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch++
	if effects != nil {
		effects()
	}
	o.replaceLocked(next)
	return o.epoch
}

// commit applies next only if no command ran since epoch was read. Side effects run under
// the same lock so a concurrent command cannot interleave with them.
func (o *Orchestrator) commit(epoch uint64, next Snapshot, bump bool, effects func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch != o.epoch {
		return false
	}
	if bump {
		o.epoch++
	}
	if effects != nil {
		effects()
	}
	o.replaceLocked(next)
	return true
}

func (o *Orchestrator) replaceLocked(next Snapshot) {
	if o.current.Load().equal(next) {
		return
	}
	o.current.Store(&next)
	for _, ch := range o.watchers {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
}
