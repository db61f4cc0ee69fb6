package orchestrator

import (
	"errors"
	"reflect"

	"github.com/smallbiznis/fintrack/internal/authclient/domain"
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Degraded
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// Notice explains why the client was signed out without asking for it.
type Notice string

const (
	NoticeNone               Notice = ""
	NoticeSessionExpired     Notice = "session_expired"
	NoticeAccountDeactivated Notice = "account_deactivated"
)

func (n Notice) Message() string {
	switch n {
	case NoticeSessionExpired:
		return "Your session has expired. Please sign in again."
	case NoticeAccountDeactivated:
		return "Your account has been deactivated. Please contact an administrator."
	}
	return ""
}

var (
	ErrSessionExpired     = errors.New("session expired")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrNotSignedIn        = errors.New("not signed in")
)

func (n Notice) err() error {
	switch n {
	case NoticeAccountDeactivated:
		return ErrAccountDeactivated
	case NoticeSessionExpired:
		return ErrSessionExpired
	}
	return nil
}

// Snapshot is an immutable view of the auth state. It is replaced wholesale, never edited.
// Identity, Session and Profile are set together for Authenticated and Degraded, and all nil
// for Unauthenticated.
type Snapshot struct {
	State    State
	Identity *domain.Identity
	Session  *domain.Session
	Profile  *domain.UserProfile
	Notice   Notice
}

func (s Snapshot) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

func (s Snapshot) equal(o Snapshot) bool {
	return reflect.DeepEqual(s, o)
}

func authenticated(user domain.Identity, session domain.Session, profile domain.UserProfile) Snapshot {
	return Snapshot{State: Authenticated, Identity: &user, Session: &session, Profile: &profile}
}

func degraded(user domain.Identity, session domain.Session, profile *domain.UserProfile) Snapshot {
	snap := Snapshot{State: Degraded, Identity: &user, Session: &session}
	if profile != nil {
		p := *profile
		snap.Profile = &p
	}
	return snap
}

// mergeProfile overlays the provider's record on the cached one, keeping cached values the
// response left empty.
func mergeProfile(cached, returned domain.UserProfile, update domain.ProfileUpdate) domain.UserProfile {
	out := returned
	if out.ID == "" {
		out.ID = cached.ID
	}
	if out.Email == "" {
		out.Email = cached.Email
	}
	if out.FullName == "" {
		out.FullName = cached.FullName
	}
	if update.FullName != nil {
		out.FullName = *update.FullName
	}
	return out
}
