package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/fintrack/internal/config"
	"go.uber.org/zap"
)

const keyRevokeLock = "admin:revoke:%s"

// ErrRevokeInProgress is returned when a bulk revoke for the same user is already running.
var ErrRevokeInProgress = errors.New("revoke already in progress")

// RevokeGuard serializes bulk session revokes per user.
type RevokeGuard struct {
	log    *zap.Logger
	locker *Locker
	ttl    time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

func NewRevokeGuard(cfg config.Config, locker *Locker, log *zap.Logger) *RevokeGuard {
	ttl := cfg.RateLimit.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RevokeGuard{
		log:    log.Named("ratelimit.revoke"),
		locker: locker,
		ttl:    ttl,
		active: make(map[string]struct{}),
	}
}

// Run calls fn unless another revoke for userID holds the guard.
func (g *RevokeGuard) Run(ctx context.Context, userID string, fn func(context.Context) error) error {
	if !g.enter(userID) {
		return ErrRevokeInProgress
	}
	defer g.leave(userID)

	if g.locker != nil {
		key := fmt.Sprintf(keyRevokeLock, userID)
		token, ok, err := g.locker.TryLock(ctx, key, g.ttl)
		switch {
		case err != nil:
			g.log.Warn("revoke lock unavailable, continuing with local guard", zap.Error(err))
		case !ok:
			return ErrRevokeInProgress
		default:
			defer func() {
				if err := g.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					g.log.Warn("failed to release revoke lock", zap.String("user_id", userID), zap.Error(err))
				}
			}()
		}
	}

	return fn(ctx)
}

func (g *RevokeGuard) enter(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[userID]; busy {
		return false
	}
	g.active[userID] = struct{}{}
	return true
}

func (g *RevokeGuard) leave(userID string) {
	g.mu.Lock()
	delete(g.active, userID)
	g.mu.Unlock()
}
