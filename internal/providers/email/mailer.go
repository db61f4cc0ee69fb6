package email

import (
	"context"
	"errors"
	"html"
	"regexp"

	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"go.uber.org/zap"
)

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// ExtractLink returns the first href in an HTML body, unescaped so the
// logged link can be pasted as is.
func ExtractLink(body string) (string, bool) {
	m := hrefPattern.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}

// Mailer logs the action link of every message and then hands it to the transport.
// A missing transport is logged and reported as success so signup is never blocked by it.
type Mailer struct {
	log       *zap.Logger
	transport Provider
	name      string
	metrics   *metrics.Metrics
}

func NewMailer(log *zap.Logger, transport Provider, name string, m *metrics.Metrics) *Mailer {
	return &Mailer{log: log.Named("email.mailer"), transport: transport, name: name, metrics: m}
}

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	link, found := ExtractLink(msg.HTML)
	if !found {
		link = "Link not found"
	}
	m.log.Info("email prepared",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("action_link", link),
	)

	if m.transport == nil {
		m.warnNotConfigured(ctx, msg)
		return nil
	}

	err := m.transport.Send(ctx, msg)
	switch {
	case err == nil:
		m.metrics.RecordEmail(ctx, msg.Subject, m.name, "sent")
		return nil
	case errors.Is(err, ErrNotConfigured):
		m.warnNotConfigured(ctx, msg)
		return nil
	default:
		m.metrics.RecordEmail(ctx, msg.Subject, m.name, "failed")
		m.log.Error("email send failed", zap.String("to", msg.To), zap.Error(err))
		return err
	}
}

func (m *Mailer) warnNotConfigured(ctx context.Context, msg Message) {
	m.metrics.RecordEmail(ctx, msg.Subject, "none", "skipped")
	m.log.Warn("smtp not configured, email not sent; the action link is logged above",
		zap.String("to", msg.To),
		zap.Error(ErrNotConfigured),
	)
}
