package domain

import (
	"context"
	"time"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	VerifyPassword(ctx context.Context, user *User, password string) error
	ChangePassword(ctx context.Context, userID string, newPassword string) error
	ConfirmEmail(ctx context.Context, userID string) (*User, error)

	IssueSession(ctx context.Context, user *User, meta ClientMeta) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, *User, error)
	Authenticate(ctx context.Context, accessToken string) (*Session, *User, error)
	Logout(ctx context.Context, accessToken string) error
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)

	CreateLink(ctx context.Context, userID string, linkType LinkType, redirectTo string) (string, *Link, error)
	ConsumeLink(ctx context.Context, rawToken string, linkType LinkType) (*User, error)

	// PurgeExpired removes one batch of dead sessions and links older than the retention window.
	PurgeExpired(ctx context.Context, retention time.Duration, limit int) (PurgeResult, error)
}

type PurgeResult struct {
	Sessions int64
	Links    int64
}

type CreateUserRequest struct {
	Email     string
	Password  string
	FullName  string
	Confirmed bool
}

type ClientMeta struct {
	UserAgent string
	IPAddress string
	Grant     string
}

// Settings holds the token lifetimes.
type Settings struct {
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	LinkTTL        time.Duration
}
