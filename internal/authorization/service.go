package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor  = errors.New("invalid actor")
	ErrInvalidObject = errors.New("invalid object")
	ErrInvalidAction = errors.New("invalid action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	// Authorize returns ErrForbidden when the user may not perform action on object.
	Authorize(ctx context.Context, userID string, object string, action string) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
}
