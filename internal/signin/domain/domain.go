package domain

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
)

type Service interface {
	Signin(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

type Result struct {
	Tokens *authdomain.TokenPair
	User   *authdomain.User
}

// ErrAccountDeactivated is only returned for an existing identity whose profile is inactive.
var ErrAccountDeactivated = errors.New("account deactivated")
