package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keySigninIP = "signin:ip:%s"

const idleLimiterTTL = 10 * time.Minute

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// SigninLimiter throttles sign-in attempts per client IP. With redis the budget is
// shared by all replicas; otherwise, and whenever redis fails, an in-process limiter applies.
type SigninLimiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	rate    float64
	burst   int
	metrics *metrics.Metrics

	mu    sync.Mutex
	local map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSigninLimiter(cfg config.Config, client *redis.Client, log *zap.Logger, m *metrics.Metrics) *SigninLimiter {
	r := cfg.RateLimit.SigninRate
	if r <= 0 {
		r = 0.2
	}
	burst := cfg.RateLimit.SigninBurst
	if burst <= 0 {
		burst = 10
	}
	return &SigninLimiter{
		log:     log.Named("ratelimit.signin"),
		bucket:  NewTokenBucket(client),
		rate:    r,
		burst:   burst,
		metrics: m,
		local:   make(map[string]*visitor),
	}
}

func (l *SigninLimiter) Allow(ctx context.Context, ip string) Decision {
	ip = strings.TrimSpace(ip)
	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, fmt.Sprintf(keySigninIP, ip), l.rate, l.burst)
		if err == nil {
			if !res.Allowed {
				l.metrics.RecordRateLimitDenied(ctx, "signin", "redis")
			}
			return Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}
		}
		l.log.Warn("redis rate limit failed, using local limiter", zap.Error(err))
	}

	limiter := l.visitor(ip)
	if limiter.Allow() {
		return Decision{Allowed: true}
	}
	l.metrics.RecordRateLimitDenied(ctx, "signin", "local")
	return Decision{Allowed: false, RetryAfter: time.Duration(float64(time.Second) / l.rate)}
}

func (l *SigninLimiter) visitor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, v := range l.local {
		if now.Sub(v.lastSeen) > idleLimiterTTL {
			delete(l.local, key)
		}
	}

	v, ok := l.local[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.rate), l.burst)}
		l.local[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}
