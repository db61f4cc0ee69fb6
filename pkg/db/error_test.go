package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: gorm.ErrDuplicatedKey, want: true},
		{name: "pg", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: users.email"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("IsDuplicateKeyErr() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasPGCode(t *testing.T) {
	if !HasPGCode(&pgconn.PgError{Code: "55P03"}, "55P03") {
		t.Fatalf("expected code match")
	}
	if HasPGCode(errors.New("55P03"), "55P03") {
		t.Fatalf("expected plain error to miss")
	}
}
