package stores

import (
	"time"

	"github.com/imc400/tuka-backend/pkg/db/models"
)

// StoreDTO is the public view of a storefront. Credentials never leave the service.
type StoreDTO struct {
	Key             string    `json:"store_key"`
	DisplayName     string    `json:"display_name"`
	RateAPIURL      *string   `json:"rate_api_url,omitempty"`
	OrderLocationID *string   `json:"order_location_id,omitempty"`
	HasOrderAccess  bool      `json:"has_order_access"`
	Currency        string    `json:"currency"`
	Active          bool      `json:"active"`
	Rates           []RateDTO `json:"rates,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RateDTO is one row of the static rate table.
type RateDTO struct {
	Title            string  `json:"title"`
	Code             string  `json:"code"`
	PriceCents       int64   `json:"price_cents"`
	Country          *string `json:"country,omitempty"`
	MinSubtotalCents int64   `json:"min_subtotal_cents"`
	MaxSubtotalCents *int64  `json:"max_subtotal_cents,omitempty"`
}

// FromModel maps a store row and its rates to the public DTO.
func FromModel(store *models.Store, rates []models.StoreShippingRate) StoreDTO {
	dto := StoreDTO{
		Key:             store.Key,
		DisplayName:     store.DisplayName,
		RateAPIURL:      store.RateAPIURL,
		OrderLocationID: store.OrderLocationID,
		HasOrderAccess:  store.SealedOrderToken != nil && *store.SealedOrderToken != "",
		Currency:        store.Currency,
		Active:          store.Active,
		UpdatedAt:       store.UpdatedAt,
	}
	for _, rate := range rates {
		dto.Rates = append(dto.Rates, RateDTO{
			Title:            rate.Title,
			Code:             rate.Code,
			PriceCents:       rate.PriceCents,
			Country:          rate.Country,
			MinSubtotalCents: rate.MinSubtotal,
			MaxSubtotalCents: rate.MaxSubtotal,
		})
	}
	return dto
}

// UpsertStoreInput registers or updates a storefront.
type UpsertStoreInput struct {
	Key              string      `json:"store_key" validate:"required,storekey"`
	DisplayName      string      `json:"display_name" validate:"required"`
	RateAPIURL       string      `json:"rate_api_url,omitempty" validate:"omitempty,url"`
	OrderLocationID  string      `json:"order_location_id,omitempty"`
	OrderAccessToken string      `json:"order_access_token,omitempty"`
	Currency         string      `json:"currency,omitempty" validate:"omitempty,len=3"`
	Rates            []RateInput `json:"rates,omitempty" validate:"dive"`
}

// RateInput is one static rate supplied by an operator.
type RateInput struct {
	Title            string `json:"title" validate:"required"`
	Code             string `json:"code" validate:"required"`
	PriceCents       int64  `json:"price_cents" validate:"gte=0"`
	Country          string `json:"country,omitempty" validate:"omitempty,len=2"`
	MinSubtotalCents int64  `json:"min_subtotal_cents" validate:"gte=0"`
	MaxSubtotalCents *int64 `json:"max_subtotal_cents,omitempty"`
}
