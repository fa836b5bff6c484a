package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is a storefront connected to the marketplace, keyed by its canonical
// store key (see pkg/storekey).
type Store struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Key              string              `gorm:"column:store_key;not null;uniqueIndex"`
	DisplayName      string              `gorm:"column:display_name;not null"`
	RateAPIURL       *string             `gorm:"column:rate_api_url"`
	OrderLocationID  *string             `gorm:"column:order_location_id"`
	SealedOrderToken *string             `gorm:"column:sealed_order_token"`
	Currency         string              `gorm:"column:currency;not null;default:'USD'"`
	Active           bool                `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	ShippingRates    []StoreShippingRate `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

func (s *Store) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// StoreShippingRate is one row of a storefront's static rate table.
type StoreShippingRate struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StoreID     uuid.UUID `gorm:"column:store_id;type:uuid;not null;index"`
	Title       string    `gorm:"column:title;not null"`
	Code        string    `gorm:"column:code;not null"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	Country     *string   `gorm:"column:country"`
	MinSubtotal int64     `gorm:"column:min_subtotal_cents;not null;default:0"`
	MaxSubtotal *int64    `gorm:"column:max_subtotal_cents"`
	SortOrder   int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *StoreShippingRate) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
