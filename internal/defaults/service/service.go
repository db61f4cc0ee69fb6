package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/defaults/domain"
	"github.com/smallbiznis/fintrack/internal/observability/metrics"
	"github.com/smallbiznis/fintrack/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEmptyUser = errors.New("user id is required")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.Metrics

	categories     repository.Repository[domain.Category]
	paymentMethods repository.Repository[domain.PaymentMethod]
}

func New(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("defaults.service"),
		genID:          p.GenID,
		metrics:        p.Metrics,
		categories:     repository.ProvideStore[domain.Category](p.DB),
		paymentMethods: repository.ProvideStore[domain.PaymentMethod](p.DB),
	}
}

// InitializeDefaults converges the user's opt-in state for every catalog item.
// Repeated calls leave the same membership as a single call.
func (s *Service) InitializeDefaults(ctx context.Context, userID string) (domain.Stats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Stats{}, ErrEmptyUser
	}

	var stats domain.Stats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		categories, err := s.categories.WithTrx(tx).Find(ctx, nil, repository.WithOrder("name asc"))
		if err != nil {
			return fmt.Errorf("fetch categories: %w", err)
		}
		paymentMethods, err := s.paymentMethods.WithTrx(tx).Find(ctx, nil, repository.WithOrder("name asc"))
		if err != nil {
			return fmt.Errorf("fetch payment methods: %w", err)
		}

		for _, category := range categories {
			if err := toggleCategory(ctx, tx, category.ID, userID, domain.IsDefaultValue(category.IsDefault)); err != nil {
				return fmt.Errorf("category %s: %w", category.Slug, err)
			}
		}
		for _, method := range paymentMethods {
			if err := togglePaymentMethod(ctx, tx, method.ID, userID, domain.IsDefaultValue(method.IsDefault)); err != nil {
				return fmt.Errorf("payment method %s: %w", method.Slug, err)
			}
		}

		stats = domain.Stats{Categories: len(categories), PaymentMethods: len(paymentMethods)}
		return nil
	})
	if err != nil {
		return domain.Stats{}, err
	}

	s.metrics.RecordDefaultsInitialized(ctx, "category", stats.Categories)
	s.metrics.RecordDefaultsInitialized(ctx, "payment_method", stats.PaymentMethods)
	s.log.Info("defaults initialized",
		zap.String("user_id", userID),
		zap.Int("categories", stats.Categories),
		zap.Int("payment_methods", stats.PaymentMethods),
	)
	return stats, nil
}

func toggleCategory(ctx context.Context, tx *gorm.DB, id snowflake.ID, userID string, include bool) error {
	var row domain.UserCategory
	err := forUpdate(tx.WithContext(ctx)).
		Where("category_id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		in, out := toggle(nil, nil, userID, include)
		return tx.WithContext(ctx).Create(&domain.UserCategory{
			CategoryID:    id,
			OptedInUsers:  datatypes.NewJSONSlice(in),
			OptedOutUsers: datatypes.NewJSONSlice(out),
		}).Error
	}
	if err != nil {
		return err
	}
	in, out := toggle(row.OptedInUsers, row.OptedOutUsers, userID, include)
	return tx.WithContext(ctx).Model(&domain.UserCategory{}).
		Where("category_id = ?", id).
		Updates(map[string]any{
			"opted_in_users":  datatypes.NewJSONSlice(in),
			"opted_out_users": datatypes.NewJSONSlice(out),
		}).Error
}

func togglePaymentMethod(ctx context.Context, tx *gorm.DB, id snowflake.ID, userID string, include bool) error {
	var row domain.UserPaymentMethod
	err := forUpdate(tx.WithContext(ctx)).
		Where("payment_method_id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		in, out := toggle(nil, nil, userID, include)
		return tx.WithContext(ctx).Create(&domain.UserPaymentMethod{
			PaymentMethodID: id,
			OptedInUsers:    datatypes.NewJSONSlice(in),
			OptedOutUsers:   datatypes.NewJSONSlice(out),
		}).Error
	}
	if err != nil {
		return err
	}
	in, out := toggle(row.OptedInUsers, row.OptedOutUsers, userID, include)
	return tx.WithContext(ctx).Model(&domain.UserPaymentMethod{}).
		Where("payment_method_id = ?", id).
		Updates(map[string]any{
			"opted_in_users":  datatypes.NewJSONSlice(in),
			"opted_out_users": datatypes.NewJSONSlice(out),
		}).Error
}

// forUpdate locks the selected row where the dialect supports row locks.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Memberships reports the user's resolved state per catalog item.
func (s *Service) Memberships(ctx context.Context, userID string) ([]domain.Membership, []domain.Membership, error) {
	categories, err := s.categories.Find(ctx, nil, repository.WithOrder("name asc"))
	if err != nil {
		return nil, nil, err
	}
	var catRows []domain.UserCategory
	if err := s.db.WithContext(ctx).Find(&catRows).Error; err != nil {
		return nil, nil, err
	}
	catIndex := make(map[snowflake.ID]domain.UserCategory, len(catRows))
	for _, row := range catRows {
		catIndex[row.CategoryID] = row
	}

	methods, err := s.paymentMethods.Find(ctx, nil, repository.WithOrder("name asc"))
	if err != nil {
		return nil, nil, err
	}
	var pmRows []domain.UserPaymentMethod
	if err := s.db.WithContext(ctx).Find(&pmRows).Error; err != nil {
		return nil, nil, err
	}
	pmIndex := make(map[snowflake.ID]domain.UserPaymentMethod, len(pmRows))
	for _, row := range pmRows {
		pmIndex[row.PaymentMethodID] = row
	}

	catOut := make([]domain.Membership, 0, len(categories))
	for _, c := range categories {
		row := catIndex[c.ID]
		catOut = append(catOut, domain.Membership{
			ItemID:   c.ID,
			Name:     c.Name,
			OptedIn:  contains(row.OptedInUsers, userID),
			OptedOut: contains(row.OptedOutUsers, userID),
		})
	}
	pmOut := make([]domain.Membership, 0, len(methods))
	for _, m := range methods {
		row := pmIndex[m.ID]
		pmOut = append(pmOut, domain.Membership{
			ItemID:   m.ID,
			Name:     m.Name,
			OptedIn:  contains(row.OptedInUsers, userID),
			OptedOut: contains(row.OptedOutUsers, userID),
		})
	}
	return catOut, pmOut, nil
}

// EnsureCatalog inserts catalog items missing by slug and updates the default flag of existing ones.
func (s *Service) EnsureCatalog(ctx context.Context, catalog config.CatalogConfig) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range catalog.Categories {
			if err := s.ensureCategory(ctx, tx, item); err != nil {
				return err
			}
		}
		for _, item := range catalog.PaymentMethods {
			if err := s.ensurePaymentMethod(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) ensureCategory(ctx context.Context, tx *gorm.DB, item config.CatalogItem) error {
	repo := s.categories.WithTrx(tx)
	itemSlug := slug.Make(item.Name)
	existing, err := repo.FindOne(ctx, &domain.Category{Slug: itemSlug})
	if err != nil {
		return err
	}
	if existing != nil {
		return tx.WithContext(ctx).Model(existing).Updates(map[string]any{"name": item.Name, "is_default": item.IsDefault}).Error
	}
	return repo.Create(ctx, &domain.Category{
		ID:        s.genID.Generate(),
		Name:      item.Name,
		Slug:      itemSlug,
		IsDefault: item.IsDefault,
	})
}

func (s *Service) ensurePaymentMethod(ctx context.Context, tx *gorm.DB, item config.CatalogItem) error {
	repo := s.paymentMethods.WithTrx(tx)
	itemSlug := slug.Make(item.Name)
	existing, err := repo.FindOne(ctx, &domain.PaymentMethod{Slug: itemSlug})
	if err != nil {
		return err
	}
	if existing != nil {
		return tx.WithContext(ctx).Model(existing).Updates(map[string]any{"name": item.Name, "is_default": item.IsDefault}).Error
	}
	return repo.Create(ctx, &domain.PaymentMethod{
		ID:        s.genID.Generate(),
		Name:      item.Name,
		Slug:      itemSlug,
		IsDefault: item.IsDefault,
	})
}
