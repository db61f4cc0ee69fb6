package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	RevokeReasonSignOut = "signout"
	RevokeReasonAdmin   = "admin"
	RevokeReasonReset   = "password_reset"
	RevokeReasonDeleted = "user_deleted"
)

const (
	SessionErrorReasonDeadlineExceeded = "deadline_exceeded"
	SessionErrorReasonUniqueViolation  = "unique_violation"
	SessionErrorReasonDBLockTimeout    = "db_lock_timeout"
	SessionErrorReasonDB               = "db"
	SessionErrorReasonUnknown          = "unknown"
)

// SessionMetrics captures session lifecycle signals.
type SessionMetrics struct {
	issued       *prometheus.CounterVec
	refreshed    prometheus.Counter
	revoked      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	adminQuery   prometheus.Observer
	revokeCounts map[string]prometheus.Counter
}

var (
	sessionMetricsOnce sync.Once
	sessionMetrics     *SessionMetrics
)

// Sessions returns the singleton session metrics registry.
func Sessions() *SessionMetrics {
	return SessionsWithConfig(Config{})
}

// SessionsWithConfig returns the singleton session metrics registry using config labels.
func SessionsWithConfig(cfg Config) *SessionMetrics {
	sessionMetricsOnce.Do(func() {
		sessionMetrics = newSessionMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sessionMetrics
}

// ResetSessionMetricsForTest resets the session metrics singleton for tests.
func ResetSessionMetricsForTest() {
	sessionMetricsOnce = sync.Once{}
	sessionMetrics = nil
}

func newSessionMetrics(registerer prometheus.Registerer, cfg Config) *SessionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fintrack"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fintrack_sessions_issued_total",
		Help:        "Sessions issued by grant type.",
		ConstLabels: constLabels,
	}, []string{"grant"})
	refreshed := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "fintrack_sessions_refreshed_total",
		Help:        "Access tokens rotated through the refresh grant.",
		ConstLabels: constLabels,
	})
	revoked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fintrack_sessions_revoked_total",
		Help:        "Sessions revoked by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	sessionErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fintrack_session_errors_total",
		Help:        "Session store errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	adminQuery := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "fintrack_admin_session_query_seconds",
		Help:        "Latency of the admin active-session listing.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(issued, refreshed, revoked, sessionErrors, adminQuery)

	revokeCounts := map[string]prometheus.Counter{}
	for _, reason := range []string{RevokeReasonSignOut, RevokeReasonAdmin, RevokeReasonReset, RevokeReasonDeleted} {
		revokeCounts[reason] = revoked.WithLabelValues(reason)
	}

	return &SessionMetrics{
		issued:       issued,
		refreshed:    refreshed,
		revoked:      revoked,
		errors:       sessionErrors,
		adminQuery:   adminQuery,
		revokeCounts: revokeCounts,
	}
}

func (m *SessionMetrics) IncIssued(grant string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(grant).Inc()
}

func (m *SessionMetrics) IncRefreshed() {
	if m == nil {
		return
	}
	m.refreshed.Inc()
}

// AddRevoked increments the revoked counter by count for reason.
func (m *SessionMetrics) AddRevoked(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if counter, ok := m.revokeCounts[reason]; ok {
		counter.Add(float64(count))
		return
	}
	m.revoked.WithLabelValues(reason).Add(float64(count))
}

func (m *SessionMetrics) IncError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(operation, ClassifySessionError(err)).Inc()
}

func (m *SessionMetrics) ObserveAdminQuery(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.adminQuery.Observe(duration.Seconds())
}

// ClassifySessionError maps store errors to low-cardinality reasons.
func ClassifySessionError(err error) string {
	if err == nil {
		return SessionErrorReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SessionErrorReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return SessionErrorReasonUniqueViolation
	}
	if hasPGCode(err, "55P03") {
		return SessionErrorReasonDBLockTimeout
	}
	if isDBError(err) {
		return SessionErrorReasonDB
	}
	return SessionErrorReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
