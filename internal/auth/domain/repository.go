package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	// Delete removes the user together with its sessions and links.
	Delete(ctx context.Context, id string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByAccessHash(ctx context.Context, tokenHash string) (*Session, error)
	GetSessionByRefreshHash(ctx context.Context, tokenHash string) (*Session, error)
	RotateTokens(ctx context.Context, sessionID snowflake.ID, accessHash, refreshHash string, accessExpiresAt, seenAt time.Time) error
	UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
	// RevokeUserSessions revokes every active session of the user and returns how many changed.
	RevokeUserSessions(ctx context.Context, userID string, now time.Time) (int64, error)
	// PurgeSessions deletes up to limit sessions that expired or were revoked before cutoff.
	PurgeSessions(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type LinkRepository interface {
	CreateLink(ctx context.Context, link *Link) error
	GetLinkByHash(ctx context.Context, tokenHash string) (*Link, error)
	MarkLinkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)
	PurgeLinks(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
