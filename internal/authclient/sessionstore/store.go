// Package sessionstore persists the client's session across process restarts.
package sessionstore

import (
	"errors"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
)

var ErrCorrupt = errors.New("stored session is unreadable")

// Stored is what survives a restart: the token pair and the identity it belongs to.
type Stored struct {
	Session domain.Session  `json:"session"`
	User    domain.Identity `json:"user"`
}

// Store holds at most one session. Load returns nil when nothing is stored.
type Store interface {
	Load() (*Stored, error)
	Save(s Stored) error
	Clear() error

	// QueueRevoke records an access token whose remote revoke has not succeeded yet.
	QueueRevoke(token string) error
	PendingRevokes() ([]string, error)
	AckRevoke(token string) error
}

func appendUnique(queue []string, token string) []string {
	for _, t := range queue {
		if t == token {
			return queue
		}
	}
	return append(queue, token)
}

func without(queue []string, token string) []string {
	out := queue[:0]
	for _, t := range queue {
		if t != token {
			out = append(out, t)
		}
	}
	return out
}
