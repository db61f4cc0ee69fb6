package email

import (
	"context"
	"errors"
)

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=email

// ErrNotConfigured marks a missing mail transport. Callers treat it as a warning.
var ErrNotConfigured = errors.New("email transport not configured")

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Provider delivers a rendered message.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}
