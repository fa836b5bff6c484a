package stores

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imc400/tuka-backend/pkg/db/models"
)

// Repository handles storefront persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to store operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByKey loads a store by its canonical key.
func (r *Repository) FindByKey(ctx context.Context, key string) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).
		Where("store_key = ?", key).
		First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// ListRates returns the static rate table ordered for display.
func (r *Repository) ListRates(ctx context.Context, storeID uuid.UUID) ([]models.StoreShippingRate, error) {
	var rates []models.StoreShippingRate
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("sort_order ASC").
		Order("price_cents ASC").
		Find(&rates).Error
	return rates, err
}

// Upsert inserts the store or updates every mutable column on key conflict.
func (r *Repository) Upsert(ctx context.Context, store *models.Store) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}
	return r.db.WithContext(ctx).
		Omit("ShippingRates").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "rate_api_url", "order_location_id", "sealed_order_token", "currency", "active", "updated_at"}),
		}).
		Create(store).Error
}

// ReplaceRates swaps the static rate table of a store in one transaction.
func (r *Repository) ReplaceRates(ctx context.Context, storeID uuid.UUID, rates []models.StoreShippingRate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_id = ?", storeID).Delete(&models.StoreShippingRate{}).Error; err != nil {
			return err
		}
		if len(rates) == 0 {
			return nil
		}
		return tx.Create(&rates).Error
	})
}
