package middleware

import (
	"context"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// Operator is the authenticated caller of an admin route.
type Operator struct {
	ID      string
	Role    enums.OperatorRole
	TokenID string
}

type (
	operatorKey     struct{}
	operatorSlotKey struct{}
)

// OperatorFrom returns the operator Auth attached to ctx.
func OperatorFrom(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

// OperatorIDFromContext returns the operator id or "" for anonymous calls.
func OperatorIDFromContext(ctx context.Context) string {
	op, _ := OperatorFrom(ctx)
	return op.ID
}

// WithOperator attaches op to ctx. When an outer middleware reserved a slot
// the operator is copied there too, so handlers wrapping Auth can still see
// who made the call once the request finishes.
func WithOperator(ctx context.Context, op Operator) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(operatorSlotKey{}).(*Operator); ok {
		*slot = op
	}
	return context.WithValue(ctx, operatorKey{}, op)
}

func withOperatorSlot(ctx context.Context) (context.Context, *Operator) {
	slot := &Operator{}
	return context.WithValue(ctx, operatorSlotKey{}, slot), slot
}
