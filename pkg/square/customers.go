package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// CreateCustomer creates a customer in the storefront's directory.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	req := params.toSquareRequest(c.ensureIdempotencyKey("customer.create", params.IdempotencyKey))
	c.log(ctx, "request", "create_customer", map[string]any{"reference_id": params.ReferenceID})

	resp, err := c.sdk.Customers.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_customer", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create customer")
	}

	cust := resp.GetCustomer()
	c.log(ctx, "response", "create_customer", map[string]any{"customer_id": stringValue(cust.GetID())})
	return cust, nil
}

// FindCustomerByEmail returns the storefront customer with the exact email, or nil.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}

	req := &sq.SearchCustomersRequest{
		Query: &sq.CustomerQuery{
			Filter: &sq.CustomerFilter{
				EmailAddress: &sq.CustomerTextFilter{Exact: ptrString(email)},
			},
		},
		Limit: int64Ptr(1),
	}
	c.log(ctx, "request", "search_customer", map[string]any{"email": email})

	resp, err := c.sdk.Customers.Search(ctx, req)
	if err != nil {
		c.log(ctx, "error", "search_customer", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "search customer")
	}

	customers := resp.GetCustomers()
	if len(customers) == 0 {
		c.log(ctx, "response", "search_customer", map[string]any{"found": false})
		return nil, nil
	}
	c.log(ctx, "response", "search_customer", map[string]any{"customer_id": stringValue(customers[0].GetID())})
	return customers[0], nil
}

// EnsureCustomer resolves the buyer by email and creates the record when the
// storefront has never seen them.
func (c *Client) EnsureCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	customer, err := c.FindCustomerByEmail(ctx, params.Email)
	if err != nil || customer != nil {
		return customer, err
	}
	return c.CreateCustomer(ctx, params)
}
