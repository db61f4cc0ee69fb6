// Package domain holds the client-side view of identities, sessions and profiles.
package domain

import (
	"strings"
	"time"

	adminsessionsdomain "github.com/smallbiznis/fintrack/internal/adminsessions/domain"
)

// Identity is the provider-owned account record.
type Identity struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

func (i Identity) FullName() string {
	if v, ok := i.Metadata["full_name"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if at := strings.Index(i.Email, "@"); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

// Session is the token pair proving an authenticated identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// ExpiresWithin reports whether the access token expires before now+d.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now.Add(d))
}

type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
	IsActive bool   `json:"is_active"`
}

// ProfileUpdate is a partial change; nil fields are left untouched.
type ProfileUpdate struct {
	FullName *string `json:"full_name,omitempty"`
}

type SignUpResult struct {
	Message              string
	RequiresVerification bool
	User                 Identity
}

// AuthResult is returned by operations that establish a session.
type AuthResult struct {
	Session Session
	User    Identity
}

type DefaultsStats struct {
	Categories     int `json:"categories"`
	PaymentMethods int `json:"paymentMethods"`
}

type (
	ActiveSessionRecord = adminsessionsdomain.ActiveSessionRecord
	SessionStats        = adminsessionsdomain.SessionStats
)

const (
	SessionStatusActive       = adminsessionsdomain.StatusActive
	SessionStatusExpiringSoon = adminsessionsdomain.StatusExpiringSoon
)

type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is an auth state change. Session and User are nil for SIGNED_OUT.
type Event struct {
	ID      string
	Kind    EventKind
	Session *Session
	User    *Identity
	At      time.Time
}

// VerifyResult is the outcome of consuming an emailed link. Session is set for recovery links only.
type VerifyResult struct {
	Message string
	User    Identity
	Session *Session
}
