package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txRow struct {
	ID string `gorm:"primaryKey"`
}

func TestRunInTxRollsBackEveryJoinedWrite(t *testing.T) {
	conn, err := NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&txRow{}))
	ctx := context.Background()

	boom := errors.New("boom")
	err = RunInTx(ctx, conn, func(ctx context.Context) error {
		require.NoError(t, Conn(ctx, conn).Create(&txRow{ID: "a"}).Error)
		// nested calls join the outer transaction
		return RunInTx(ctx, conn, func(ctx context.Context) error {
			require.NoError(t, Conn(ctx, conn).Create(&txRow{ID: "b"}).Error)
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, Conn(ctx, conn).Model(&txRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunInTxCommits(t *testing.T) {
	conn, err := NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&txRow{}))
	ctx := context.Background()

	require.NoError(t, RunInTx(ctx, conn, func(ctx context.Context) error {
		return Conn(ctx, conn).Create(&txRow{ID: "a"}).Error
	}))

	var rows []txRow
	require.NoError(t, conn.Find(&rows).Error)
	assert.Equal(t, []txRow{{ID: "a"}}, rows)
}

func TestRunInTxWithoutConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
