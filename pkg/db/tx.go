package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// RunInTx runs fn in a transaction carried by the context it receives. Repositories that
// resolve their handle with Conn join it. A nested call reuses the outer transaction, and a
// nil conn runs fn without one.
func RunInTx(ctx context.Context, conn *gorm.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok || conn == nil {
		return fn(ctx)
	}
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Conn returns the transaction in ctx, or conn bound to ctx when there is none.
func Conn(ctx context.Context, conn *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return conn.WithContext(ctx)
}
