package stripe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

const (
	metadataReference   = "external_reference"
	metadataTransaction = "transaction_id"
	metadataStoreKey    = "store_key"
)

// ChargeLine is one priced line of a charge intent.
type ChargeLine struct {
	Name           string
	UnitPriceCents int64
	Quantity       int64
}

// ChargeIntentRequest describes one storefront's share of a transaction.
type ChargeIntentRequest struct {
	TransactionID  uint64
	StoreKey       string
	Reference      string
	IdempotencyKey string
	PayerEmail     string
	Lines          []ChargeLine
	ShippingTitle  string
	ShippingCents  int64
	// CollectorID routes the net amount to the storefront's connected
	// account. Empty means the platform collects everything.
	CollectorID string
	FeeCents    int64
	SuccessURL  string
	CancelURL   string
}

// ChargeIntent is the processor-side object the buyer completes.
type ChargeIntent struct {
	ID          string
	CheckoutURL string
	AmountCents int64
}

// CreateChargeIntent opens a hosted checkout session for one storefront.
func (c *Client) CreateChargeIntent(ctx context.Context, req ChargeIntentRequest) (*ChargeIntent, error) {
	params, err := c.sessionParams(req)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &ChargeIntent{ID: sess.ID, CheckoutURL: sess.URL, AmountCents: sess.AmountTotal}, nil
}

func (c *Client) sessionParams(req ChargeIntentRequest) (*stripe.CheckoutSessionParams, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return nil, fmt.Errorf("external reference is required")
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("at least one line is required")
	}
	if req.CollectorID == "" && req.FeeCents != 0 {
		return nil, fmt.Errorf("fee requires a collector")
	}

	successURL := firstNonEmpty(req.SuccessURL, c.successURL)
	cancelURL := firstNonEmpty(req.CancelURL, c.cancelURL)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}

	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, c.lineItem(line.Name, line.UnitPriceCents, line.Quantity))
	}
	if req.ShippingCents > 0 {
		params.LineItems = append(params.LineItems, c.lineItem(firstNonEmpty(req.ShippingTitle, "Shipping"), req.ShippingCents, 1))
	}

	metadata := map[string]string{
		metadataReference:   req.Reference,
		metadataTransaction: strconv.FormatUint(req.TransactionID, 10),
		metadataStoreKey:    req.StoreKey,
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	if req.CollectorID != "" {
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
			Destination: stripe.String(req.CollectorID),
		}
		if req.FeeCents > 0 {
			params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(req.FeeCents)
		}
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params, nil
}

func (c *Client) lineItem(name string, unitCents, qty int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(c.currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(unitCents),
		},
		Quantity: stripe.Int64(qty),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
