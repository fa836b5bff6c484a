package rates

import (
	"time"

	"github.com/imc400/tuka-backend/pkg/enums"
	"github.com/imc400/tuka-backend/pkg/types"
)

// QuoteRequest asks for a shipping menu for every storefront in the cart.
type QuoteRequest struct {
	Lines   types.CartLines       `json:"lines" validate:"required,min=1,dive"`
	Address types.ShippingAddress `json:"address" validate:"required"`
}

// Option is one priced shipping choice, tagged with the tier that produced it.
type Option struct {
	Code       string           `json:"code"`
	Title      string           `json:"title"`
	PriceCents int64            `json:"price_cents"`
	Source     enums.RateSource `json:"source"`
}

// StoreQuote is the menu for one storefront. Error is set instead of Options
// when no tier could price the storefront.
type StoreQuote struct {
	StoreKey      string            `json:"store_key"`
	SubtotalCents int64             `json:"subtotal_cents"`
	Options       []Option          `json:"options"`
	Error         *types.StoreError `json:"error,omitempty"`
}

// QuoteSet is cached under QuoteID until ExpiresAt.
type QuoteSet struct {
	QuoteID   string       `json:"quote_id"`
	Country   string       `json:"country"`
	ExpiresAt time.Time    `json:"expires_at"`
	Stores    []StoreQuote `json:"stores"`
}

// Pick is the buyer's chosen option code for one storefront.
type Pick struct {
	StoreKey string `json:"store_key" validate:"required,storekey"`
	Code     string `json:"code" validate:"required"`
}

func (q *QuoteSet) store(key string) (*StoreQuote, bool) {
	for i := range q.Stores {
		if q.Stores[i].StoreKey == key {
			return &q.Stores[i], true
		}
	}
	return nil, false
}
