// Package console backs the admin view of active sessions.
package console

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
)

//go:generate mockgen -source=console.go -destination=mock_gateway.go -package=console

type Gateway interface {
	ListActiveSessions(ctx context.Context) ([]domain.ActiveSessionRecord, error)
	GetSessionStats(ctx context.Context) (*domain.SessionStats, error)
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
}

var (
	ErrRevokeInProgress = errors.New("sessions for this user are already being revoked")
	ErrUserRequired     = errors.New("user id is required")
)

// View is one render of the console. Stats is nil when they could not be fetched.
type View struct {
	Sessions []domain.ActiveSessionRecord
	Stats    *domain.SessionStats
}

type RevokeResult struct {
	Count int
	View  View
}

type Console struct {
	gw  Gateway
	log *zap.Logger

	mu       sync.Mutex
	revoking map[string]struct{}
}

func New(gw Gateway, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{gw: gw, log: log.Named("console"), revoking: make(map[string]struct{})}
}

// Load fetches sessions and stats concurrently. Only a failed session list fails the load.
func (c *Console) Load(ctx context.Context) (View, error) {
	var (
		sessions []domain.ActiveSessionRecord
		stats    *domain.SessionStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := c.gw.ListActiveSessions(gctx)
		if err != nil {
			return err
		}
		sessions = list
		return nil
	})
	g.Go(func() error {
		st, err := c.gw.GetSessionStats(gctx)
		if err != nil {
			c.log.Warn("failed to load session stats", zap.Error(err))
			return nil
		}
		stats = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	slices.SortStableFunc(sessions, func(a, b domain.ActiveSessionRecord) int {
		return b.SessionStarted.Compare(a.SessionStarted)
	})
	return View{Sessions: sessions, Stats: stats}, nil
}

// Revoke ends every session of userID and reloads the full view. A second call for the same
// user while the first is running fails with ErrRevokeInProgress.
func (c *Console) Revoke(ctx context.Context, userID string) (RevokeResult, error) {
	if userID == "" {
		return RevokeResult{}, ErrUserRequired
	}
	if !c.begin(userID) {
		return RevokeResult{}, ErrRevokeInProgress
	}
	defer c.end(userID)

	count, err := c.gw.RevokeUserSessions(ctx, userID)
	if err != nil {
		return RevokeResult{}, err
	}
	c.log.Info("revoked user sessions", zap.String("user_id", userID), zap.Int("count", count))

	view, err := c.Load(ctx)
	if err != nil {
		return RevokeResult{Count: count}, err
	}
	return RevokeResult{Count: count, View: view}, nil
}

// Revoking reports whether a revoke for userID is in flight.
func (c *Console) Revoking(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.revoking[userID]
	return ok
}

func (c *Console) begin(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.revoking[userID]; ok {
		return false
	}
	c.revoking[userID] = struct{}{}
	return true
}

func (c *Console) end(userID string) {
	c.mu.Lock()
	delete(c.revoking, userID)
	c.mu.Unlock()
}
