package repository

import (
	"context"
	"testing"

	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   string `gorm:"primaryKey"`
	Name string
	Rank int
}

func TestStoreRoundTrip(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))

	ctx := context.Background()
	repo := ProvideStore[widget](conn)

	require.NoError(t, repo.BatchCreate(ctx, []*widget{
		{ID: "a", Name: "alpha", Rank: 2},
		{ID: "b", Name: "beta", Rank: 1},
	}))

	items, err := repo.Find(ctx, &widget{}, WithOrder("rank asc"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].ID)

	missing, err := repo.FindOne(ctx, &widget{ID: "zzz"})
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.Update(ctx, "a", map[string]any{"name": "alpha-2"}))
	got, err := repo.FindOne(ctx, &widget{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, "alpha-2", got.Name)

	count, err := repo.Count(ctx, &widget{})
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, repo.Delete(ctx, "b"))
	limited, err := repo.Find(ctx, nil, WithLimit(5))
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
