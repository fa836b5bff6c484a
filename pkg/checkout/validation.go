package checkout

import (
	"fmt"
	"strings"

	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/types"
)

// LineViolationDetail describes why a cart line was refused.
type LineViolationDetail struct {
	Index     int    `json:"index"`
	StoreKey  string `json:"store_key,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	Reason    string `json:"reason"`
}

// ValidateLines rejects a cart that cannot be snapshotted. Every failure is
// transaction-fatal and reported before any external call is made.
func ValidateLines(lines types.CartLines) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no lines")
	}
	var violations []LineViolationDetail
	for i, line := range lines {
		reason := lineViolation(line)
		if reason == "" {
			continue
		}
		violations = append(violations, LineViolationDetail{
			Index:     i,
			StoreKey:  line.StoreKey,
			VariantID: line.VariantID,
			Reason:    reason,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid cart: %d line(s) rejected", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

func lineViolation(line types.CartLine) string {
	switch {
	case storekey.Normalize(line.StoreKey) == "":
		return "store key is required"
	case strings.TrimSpace(line.VariantID) == "":
		return "variant id is required"
	case strings.TrimSpace(line.Title) == "":
		return "title is required"
	case line.Quantity <= 0:
		return "quantity must be positive"
	case line.UnitPriceCents < 0:
		return "unit price must not be negative"
	case line.Grams < 0:
		return "weight must not be negative"
	}
	return ""
}
