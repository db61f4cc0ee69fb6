package domain

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
)

const (
	MessageAccountCreated   = "Account created successfully. You can now sign in."
	MessageVerificationSent = "Verification email sent. Please check your inbox."
	MessageNoEnumeration    = "If an account exists with this email, a verification link has been sent."
	MessageResetSent        = "If an account exists with this email, a password reset link has been sent."
)

type Service interface {
	Signup(ctx context.Context, req Request) (*Result, error)
	ResendVerification(ctx context.Context, req LinkRequest) (string, error)
	RequestPasswordReset(ctx context.Context, req LinkRequest) (string, error)
}

type Request struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type Result struct {
	User                 *authdomain.User
	Message              string
	RequiresVerification bool
}

// LinkRequest asks for an emailed action link. Origin overrides the public URL used for the redirect.
type LinkRequest struct {
	Email  string
	Origin string
}

// Provisioner prepares application data for a freshly created identity.
type Provisioner interface {
	Provision(ctx context.Context, user *authdomain.User) error
}

var (
	ErrEmailAlreadyVerified = errors.New("email is already verified")
	ErrEmailDelivery        = errors.New("failed to send email")
)
