package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Category struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"size:255;not null;uniqueIndex"`
	IsDefault *bool        `gorm:"column:is_default"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Category) TableName() string { return "categories" }

type PaymentMethod struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"size:255;not null;uniqueIndex"`
	IsDefault *bool        `gorm:"column:is_default"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// UserCategory holds per-user inclusion for one category.
type UserCategory struct {
	CategoryID    snowflake.ID                `gorm:"primaryKey;autoIncrement:false"`
	OptedInUsers  datatypes.JSONSlice[string] `gorm:"column:opted_in_users"`
	OptedOutUsers datatypes.JSONSlice[string] `gorm:"column:opted_out_users"`
}

func (UserCategory) TableName() string { return "user_categories" }

type UserPaymentMethod struct {
	PaymentMethodID snowflake.ID                `gorm:"primaryKey;autoIncrement:false"`
	OptedInUsers    datatypes.JSONSlice[string] `gorm:"column:opted_in_users"`
	OptedOutUsers   datatypes.JSONSlice[string] `gorm:"column:opted_out_users"`
}

func (UserPaymentMethod) TableName() string { return "user_payment_methods" }

// IsDefaultValue treats an unset flag as default.
func IsDefaultValue(v *bool) bool {
	return v == nil || *v
}

// Stats reports how many catalog items were processed.
type Stats struct {
	Categories     int `json:"categories"`
	PaymentMethods int `json:"paymentMethods"`
}

// Membership is a user's resolved opt-in state for one catalog item.
type Membership struct {
	ItemID   snowflake.ID
	Name     string
	OptedIn  bool
	OptedOut bool
}

type Service interface {
	InitializeDefaults(ctx context.Context, userID string) (Stats, error)
	Memberships(ctx context.Context, userID string) (categories, paymentMethods []Membership, err error)
}
