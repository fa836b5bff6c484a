package square

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// CompleteOrderParams commits a draft order and records it as paid.
type CompleteOrderParams struct {
	OrderID        string
	LocationID     string
	CustomerID     string
	Version        *int
	AmountCents    int64
	Currency       string
	ReferenceID    string
	IdempotencyKey string
}

// CreateDraftOrder submits an order in DRAFT state.
func (c *Client) CreateDraftOrder(ctx context.Context, params DraftOrderParams) (*sq.Order, error) {
	if strings.TrimSpace(params.LocationID) == "" {
		return nil, fmt.Errorf("location id is required")
	}
	if params.Currency == "" {
		params.Currency = c.currency
	}
	req := params.toSquareRequest(c.ensureIdempotencyKey("order.create", params.IdempotencyKey))
	c.log(ctx, "request", "create_order", map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"lines":        len(params.Lines),
	})

	resp, err := c.sdk.Orders.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create order")
	}

	order := resp.GetOrder()
	c.log(ctx, "response", "create_order", map[string]any{"order_id": stringValue(order.GetID())})
	return order, nil
}

// CompleteOrderAsPaid opens the draft, attaches an external payment for the
// full amount and pays the order.
func (c *Client) CompleteOrderAsPaid(ctx context.Context, params CompleteOrderParams) (*sq.Order, error) {
	if strings.TrimSpace(params.OrderID) == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if params.Currency == "" {
		params.Currency = c.currency
	}
	baseKey := c.ensureIdempotencyKey("order.complete", params.IdempotencyKey)

	open := sq.OrderStateOpen
	c.log(ctx, "request", "open_order", map[string]any{"order_id": params.OrderID})
	updated, err := c.sdk.Orders.Update(ctx, &sq.UpdateOrderRequest{
		OrderID: params.OrderID,
		Order: &sq.Order{
			LocationID: params.LocationID,
			Version:    params.Version,
			State:      &open,
		},
		IdempotencyKey: ptrString(baseKey + ":open"),
	})
	if err != nil {
		c.log(ctx, "error", "open_order", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "open order")
	}
	order := updated.GetOrder()

	payment, err := c.CreatePayment(ctx, PaymentCreateParams{
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		LocationID:     params.LocationID,
		OrderID:        params.OrderID,
		CustomerID:     params.CustomerID,
		ReferenceID:    params.ReferenceID,
		Note:           "settled by marketplace processor",
		IdempotencyKey: baseKey + ":payment",
	})
	if err != nil {
		return nil, err
	}

	req := &sq.PayOrderRequest{
		OrderID:        params.OrderID,
		IdempotencyKey: baseKey + ":pay",
		PaymentIDs:     []string{stringValue(payment.GetID())},
	}
	if order != nil {
		req.OrderVersion = order.GetVersion()
	}
	c.log(ctx, "request", "pay_order", map[string]any{"order_id": params.OrderID})
	paid, err := c.sdk.Orders.Pay(ctx, req)
	if err != nil {
		c.log(ctx, "error", "pay_order", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "pay order")
	}

	result := paid.GetOrder()
	c.log(ctx, "response", "pay_order", map[string]any{"order_id": stringValue(result.GetID())})
	return result, nil
}

// FindOrderByReference looks for a non-canceled order carrying reference for
// the given customer. Square cannot filter by reference id, so the customer's
// recent orders are scanned.
func (c *Client) FindOrderByReference(ctx context.Context, locationID, customerID, reference string) (*sq.Order, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(reference) == "" {
		return nil, nil
	}
	limit := 50
	req := &sq.SearchOrdersRequest{
		LocationIDs: []string{locationID},
		Query: &sq.SearchOrdersQuery{
			Filter: &sq.SearchOrdersFilter{
				CustomerFilter: &sq.SearchOrdersCustomerFilter{CustomerIDs: []string{customerID}},
			},
		},
		Limit: &limit,
	}
	c.log(ctx, "request", "search_orders", map[string]any{"reference_id": reference})

	resp, err := c.sdk.Orders.Search(ctx, req)
	if err != nil {
		c.log(ctx, "error", "search_orders", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "search orders")
	}
	for _, order := range resp.GetOrders() {
		if order == nil || stringValue(order.GetReferenceID()) != reference {
			continue
		}
		if state := order.GetState(); state != nil && *state == sq.OrderStateCanceled {
			continue
		}
		c.log(ctx, "response", "search_orders", map[string]any{"order_id": stringValue(order.GetID())})
		return order, nil
	}
	c.log(ctx, "response", "search_orders", map[string]any{"found": false})
	return nil, nil
}
