package square

import (
	"strconv"
	"strings"

	sq "github.com/square/square-go-sdk"
)

const externalSource = "EXTERNAL"

// CustomerCreateParams defines the payload to create a Square customer.
type CustomerCreateParams struct {
	Email          string
	PhoneNumber    string
	GivenName      string
	FamilyName     string
	ReferenceID    string
	Address        *sq.Address
	Note           string
	IdempotencyKey string
}

func (p CustomerCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateCustomerRequest {
	req := &sq.CreateCustomerRequest{
		IdempotencyKey: ptrString(idempotencyKey),
	}
	if trimmed := strings.TrimSpace(p.Email); trimmed != "" {
		req.EmailAddress = ptrString(strings.ToLower(trimmed))
	}
	if trimmed := strings.TrimSpace(p.PhoneNumber); strings.HasPrefix(trimmed, "+") {
		req.PhoneNumber = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.GivenName); trimmed != "" {
		req.GivenName = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.FamilyName); trimmed != "" {
		req.FamilyName = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	if p.Address != nil {
		req.Address = p.Address
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	return req
}

// PaymentCreateParams encapsulates an externally settled payment recorded on
// an order.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	OrderID        string
	CustomerID     string
	IdempotencyKey string
	Note           string
	ReferenceID    string
	ExternalSource string
}

func (p PaymentCreateParams) toSquareRequest(idempotencyKey string) *sq.CreatePaymentRequest {
	source := strings.TrimSpace(p.ExternalSource)
	if source == "" {
		source = "marketplace"
	}
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       externalSource,
		LocationID:     ptrString(p.LocationID),
		OrderID:        ptrString(p.OrderID),
		CustomerID:     ptrString(p.CustomerID),
		Autocomplete:   boolPtr(false),
		ExternalDetails: &sq.ExternalPaymentDetails{
			Type:   "OTHER",
			Source: source,
		},
	}
	if p.AmountCents > 0 {
		req.AmountMoney = moneyPtr(p.AmountCents, p.Currency)
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	return req
}

// OrderLine is one catalog-backed line of a storefront order.
type OrderLine struct {
	VariantID      string
	Name           string
	Quantity       int
	UnitPriceCents int64
}

// ShippingLine is the quote the buyer selected; it is added as an ad-hoc line
// so the storefront sees exactly the amount it quoted.
type ShippingLine struct {
	Title      string
	Code       string
	PriceCents int64
}

// Recipient is the shipment destination.
type Recipient struct {
	DisplayName string
	Email       string
	Phone       string
	Address     *sq.Address
}

// DraftOrderParams describes a draft order for one storefront.
type DraftOrderParams struct {
	LocationID     string
	CustomerID     string
	ReferenceID    string
	Currency       string
	Lines          []OrderLine
	Shipping       *ShippingLine
	Recipient      Recipient
	IdempotencyKey string
}

func (p DraftOrderParams) toSquareRequest(idempotencyKey string) *sq.CreateOrderRequest {
	state := sq.OrderStateDraft
	order := &sq.Order{
		LocationID:  p.LocationID,
		ReferenceID: ptrString(p.ReferenceID),
		CustomerID:  ptrString(p.CustomerID),
		State:       &state,
	}
	for _, line := range p.Lines {
		item := &sq.OrderLineItem{
			Quantity:        strconv.Itoa(line.Quantity),
			CatalogObjectID: ptrString(line.VariantID),
		}
		if item.CatalogObjectID == nil {
			item.Name = ptrString(line.Name)
			item.BasePriceMoney = moneyPtr(line.UnitPriceCents, p.Currency)
		}
		order.LineItems = append(order.LineItems, item)
	}
	if p.Shipping != nil && p.Shipping.PriceCents > 0 {
		title := strings.TrimSpace(p.Shipping.Title)
		if title == "" {
			title = "Shipping"
		}
		order.LineItems = append(order.LineItems, &sq.OrderLineItem{
			Quantity:       "1",
			Name:           ptrString(title),
			Note:           ptrString(p.Shipping.Code),
			BasePriceMoney: moneyPtr(p.Shipping.PriceCents, p.Currency),
		})
	}
	if p.Recipient.Address != nil {
		fulfillmentType := sq.FulfillmentTypeShipment
		fulfillmentState := sq.FulfillmentStateProposed
		order.Fulfillments = []*sq.Fulfillment{{
			Type:  &fulfillmentType,
			State: &fulfillmentState,
			ShipmentDetails: &sq.FulfillmentShipmentDetails{
				Recipient: &sq.FulfillmentRecipient{
					DisplayName:  ptrString(p.Recipient.DisplayName),
					EmailAddress: ptrString(p.Recipient.Email),
					PhoneNumber:  ptrString(p.Recipient.Phone),
					Address:      p.Recipient.Address,
				},
			},
		}}
	}
	return &sq.CreateOrderRequest{
		Order:          order,
		IdempotencyKey: ptrString(idempotencyKey),
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}

func countryPtr(code string) *sq.Country {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return nil
	}
	c := sq.Country(trimmed)
	return &c
}

// NewAddress converts a shipping destination into Square's address shape.
func NewAddress(line1, line2, city, region, postalCode, country string) *sq.Address {
	return &sq.Address{
		AddressLine1:                 ptrString(line1),
		AddressLine2:                 ptrString(line2),
		Locality:                     ptrString(city),
		AdministrativeDistrictLevel1: ptrString(region),
		PostalCode:                   ptrString(postalCode),
		Country:                      countryPtr(country),
	}
}
