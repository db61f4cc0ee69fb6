package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidUpdate   = errors.New("invalid profile update")
)

// Profile is the application-level record layered over an identity.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Email     string    `gorm:"type:text;not null" json:"email"`
	FullName  string    `gorm:"column:full_name;type:text" json:"full_name"`
	IsAdmin   bool      `gorm:"column:is_admin;not null" json:"is_admin"`
	IsActive  bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Profile) TableName() string { return "user_profiles" }

// Update is a partial profile change. Nil fields are left untouched.
type Update struct {
	FullName *string `json:"full_name"`
}

type Service interface {
	Get(ctx context.Context, id string) (*Profile, error)
	Upsert(ctx context.Context, profile Profile) (*Profile, error)
	Update(ctx context.Context, id string, update Update) (*Profile, error)
	SetActive(ctx context.Context, id string, active bool) (*Profile, error)
	SetAdmin(ctx context.Context, id string, admin bool) (*Profile, error)
	Delete(ctx context.Context, id string) error
}
