// Package scheduler runs the janitor that purges sessions and action links
// nobody can use anymore.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/clock"
	obsmetrics "github.com/smallbiznis/fintrack/internal/observability/metrics"
	"github.com/smallbiznis/fintrack/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobPurgeExpired = "purge_expired"
	janitorLockKey  = "fintrack:janitor"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log    *zap.Logger
	Auth   authdomain.Service
	Clock  clock.Clock
	Locker *ratelimit.Locker `optional:"true"`
	Config Config            `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	auth   authdomain.Service
	locker *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Auth == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler").With(zap.String("component", "janitor")),
		cfg:    p.Config.withDefaults(),
		clock:  p.Clock,
		auth:   p.Auth,
		locker: p.Locker,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce purges batches until a short batch shows the backlog is drained.
// With redis configured only one replica purges per interval.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobPurgeExpired, s.cfg.JobTimeout, func(ctx context.Context) error {
		token, ok, err := s.locker.TryLock(ctx, janitorLockKey, s.cfg.JobTimeout)
		switch {
		case errors.Is(err, ratelimit.ErrLockNotConfigured):
		case err != nil:
			return err
		case !ok:
			s.log.Debug("janitor lock held elsewhere, skipping run")
			return nil
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), janitorLockKey, token); err != nil {
					s.log.Warn("janitor lock release failed", zap.Error(err))
				}
			}()
		}

		var total authdomain.PurgeResult
		for {
			res, err := s.auth.PurgeExpired(ctx, s.cfg.Retention, s.cfg.BatchSize)
			if err != nil {
				return err
			}
			total.Sessions += res.Sessions
			total.Links += res.Links
			obsmetrics.Scheduler().AddPurged("sessions", res.Sessions)
			obsmetrics.Scheduler().AddPurged("links", res.Links)

			if res.Sessions < int64(s.cfg.BatchSize) && res.Links < int64(s.cfg.BatchSize) {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if total.Sessions > 0 || total.Links > 0 {
			s.log.Info("purged expired rows",
				zap.Int64("sessions", total.Sessions),
				zap.Int64("links", total.Links),
			)
		}
		return nil
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}
