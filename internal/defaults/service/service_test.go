package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/defaults/domain"
	"github.com/smallbiznis/fintrack/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.Category{},
		&domain.PaymentMethod{},
		&domain.UserCategory{},
		&domain.UserPaymentMethod{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{DB: conn, Log: zap.NewNop(), GenID: node}), conn
}

func testCatalog() config.CatalogConfig {
	no := false
	return config.CatalogConfig{
		Categories: []config.CatalogItem{
			{Name: "Food & Dining"},
			{Name: "Gifts", IsDefault: &no},
		},
		PaymentMethods: []config.CatalogItem{
			{Name: "Cash"},
		},
	}
}

func snapshot(t *testing.T, conn *gorm.DB) ([]domain.UserCategory, []domain.UserPaymentMethod) {
	t.Helper()
	var cats []domain.UserCategory
	require.NoError(t, conn.Order("category_id").Find(&cats).Error)
	var pms []domain.UserPaymentMethod
	require.NoError(t, conn.Order("payment_method_id").Find(&pms).Error)
	return cats, pms
}

func TestInitializeDefaultsIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureCatalog(ctx, testCatalog()))

	stats, err := svc.InitializeDefaults(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Categories: 2, PaymentMethods: 1}, stats)
	firstCats, firstPMs := snapshot(t, conn)

	_, err = svc.InitializeDefaults(ctx, "user-1")
	require.NoError(t, err)
	secondCats, secondPMs := snapshot(t, conn)

	assert.Equal(t, firstCats, secondCats)
	assert.Equal(t, firstPMs, secondPMs)

	cats, pms, err := svc.Memberships(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Food & Dining", cats[0].Name)
	assert.True(t, cats[0].OptedIn)
	assert.Equal(t, "Gifts", cats[1].Name)
	assert.True(t, cats[1].OptedOut)
	assert.False(t, cats[1].OptedIn)
	require.Len(t, pms, 1)
	assert.True(t, pms[0].OptedIn)
}

func TestInitializeDefaultsKeepsOtherUsers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.EnsureCatalog(ctx, testCatalog()))

	_, err := svc.InitializeDefaults(ctx, "user-1")
	require.NoError(t, err)
	_, err = svc.InitializeDefaults(ctx, "user-2")
	require.NoError(t, err)

	for _, user := range []string{"user-1", "user-2"} {
		cats, _, err := svc.Memberships(ctx, user)
		require.NoError(t, err)
		assert.True(t, cats[0].OptedIn, user)
	}
}

func TestEnsureCatalogIsStableBySlug(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureCatalog(ctx, testCatalog()))
	require.NoError(t, svc.EnsureCatalog(ctx, testCatalog()))

	var count int64
	require.NoError(t, conn.Model(&domain.Category{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	var gifts domain.Category
	require.NoError(t, conn.Where("slug = ?", "gifts").First(&gifts).Error)
	require.NotNil(t, gifts.IsDefault)
	assert.False(t, *gifts.IsDefault)
}

func TestInitializeDefaultsRequiresUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.InitializeDefaults(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyUser)
}
