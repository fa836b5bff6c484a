package types

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// Buyer is the contact captured at checkout time.
type Buyer struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// Value serializes the buyer to JSON.
func (b Buyer) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan decodes JSONB into the buyer.
func (b *Buyer) Scan(value interface{}) error {
	if value == nil {
		*b = Buyer{}
		return nil
	}
	return scanJSON(value, b)
}

// ShippingAddress is the destination sent to rate sources and order systems.
type ShippingAddress struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,len=2"`
}

// Value serializes the address to JSON.
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan decodes JSONB into the address.
func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}
	return scanJSON(value, a)
}

// CartLine is one immutable line of the cart snapshot. Prices are copied at
// checkout time and never re-read from the catalog.
type CartLine struct {
	StoreKey       string `json:"store_key" validate:"required,storekey"`
	ProductID      string `json:"product_id" validate:"required"`
	VariantID      string `json:"variant_id" validate:"required"`
	Title          string `json:"title" validate:"required"`
	VariantTitle   string `json:"variant_title,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	Grams          int64  `json:"grams,omitempty" validate:"gte=0"`
}

// TotalCents returns unit price times quantity.
func (l CartLine) TotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// CartLines persists a cart snapshot as JSONB.
type CartLines []CartLine

// Value serializes the lines to JSON.
func (c CartLines) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan decodes JSONB into the cart lines.
func (c *CartLines) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	var decoded CartLines
	if err := scanJSON(value, &decoded); err != nil {
		return err
	}
	*c = decoded
	return nil
}

// SubtotalCents sums every line.
func (c CartLines) SubtotalCents() int64 {
	var total int64
	for _, line := range c {
		total += line.TotalCents()
	}
	return total
}

// ShippingSelection is the quote a buyer picked for one storefront.
type ShippingSelection struct {
	StoreKey   string           `json:"store_key"`
	Code       string           `json:"code"`
	Title      string           `json:"title"`
	PriceCents int64            `json:"price_cents"`
	Source     enums.RateSource `json:"source"`
}

// ShippingSelections persists the per-storefront selections as JSONB.
type ShippingSelections []ShippingSelection

// Value serializes the selections to JSON.
func (s ShippingSelections) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan decodes JSONB into the selections.
func (s *ShippingSelections) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var decoded ShippingSelections
	if err := scanJSON(value, &decoded); err != nil {
		return err
	}
	*s = decoded
	return nil
}

// For returns the selection recorded for storeKey, if any.
func (s ShippingSelections) For(storeKey string) (ShippingSelection, bool) {
	for _, sel := range s {
		if sel.StoreKey == storeKey {
			return sel, true
		}
	}
	return ShippingSelection{}, false
}
