// Package domain contains core types for the identity service.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User is an identity account. Only EmailConfirmedAt changes after creation,
// apart from password rotation.
type User struct {
	ID               string            `gorm:"primaryKey;size:64"`
	Email            string            `gorm:"column:email;size:255;not null;uniqueIndex"`
	PasswordHash     *string           `gorm:"type:text"`
	EmailConfirmedAt *time.Time        `gorm:"column:email_confirmed_at"`
	Metadata         datatypes.JSONMap `gorm:"not null"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// FullName returns metadata.full_name, falling back to the email local part.
func (u User) FullName() string {
	if u.Metadata != nil {
		if v, ok := u.Metadata["full_name"].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return LocalPart(u.Email)
}

// Session is a persisted token pair. The refresh token bounds the session lifetime.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           string       `gorm:"column:user_id;size:64;not null;index"`
	AccessTokenHash  string       `gorm:"column:access_token_hash;size:64;not null;uniqueIndex"`
	RefreshTokenHash string       `gorm:"column:refresh_token_hash;size:64;not null;uniqueIndex"`
	AccessExpiresAt  time.Time    `gorm:"column:access_expires_at;not null"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
}

func (Session) TableName() string { return "sessions" }

// Active reports whether the session is usable at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

type LinkType string

const (
	LinkTypeSignup    LinkType = "signup"
	LinkTypeMagicLink LinkType = "magiclink"
	LinkTypeRecovery  LinkType = "recovery"
)

func (t LinkType) Valid() bool {
	switch t {
	case LinkTypeSignup, LinkTypeMagicLink, LinkTypeRecovery:
		return true
	}
	return false
}

// Link is a one-time action link delivered by email.
type Link struct {
	ID         string     `gorm:"primaryKey;size:64"`
	UserID     string     `gorm:"column:user_id;size:64;not null;index"`
	Type       LinkType   `gorm:"column:type;size:16;not null"`
	TokenHash  string     `gorm:"column:token_hash;size:64;not null;uniqueIndex"`
	RedirectTo string     `gorm:"column:redirect_to;type:text"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	UsedAt     *time.Time `gorm:"column:used_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (Link) TableName() string { return "auth_links" }

// TokenPair is the credential material handed to a client.
type TokenPair struct {
	SessionID    snowflake.ID
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	ExpiresAt    time.Time
	TokenType    string
}

// LocalPart returns the part of an email address before '@'.
func LocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
