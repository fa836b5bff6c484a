package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/types"
)

func TestGroupByStoreMergesPrefixVariants(t *testing.T) {
	lines := types.CartLines{
		{StoreKey: "real-acme.example", VariantID: "v1", Title: "Mug", UnitPriceCents: 1500, Quantity: 2, Grams: 300},
		{StoreKey: "https://shop-y.example/", VariantID: "v2", Title: "Tee", UnitPriceCents: 3000, Quantity: 1},
		{StoreKey: "acme.example", VariantID: "v3", Title: "Cap", UnitPriceCents: 1000, Quantity: 1, Grams: 100},
	}

	groups := GroupByStore(lines)
	require.Len(t, groups, 2)

	assert.Equal(t, "acme.example", groups[0].StoreKey)
	assert.Len(t, groups[0].Lines, 2)
	assert.Equal(t, int64(4000), groups[0].SubtotalCents)
	assert.Equal(t, int64(700), groups[0].Grams)
	assert.Equal(t, 3, groups[0].ItemCount)
	for _, line := range groups[0].Lines {
		assert.Equal(t, "acme.example", line.StoreKey)
	}

	assert.Equal(t, "shop-y.example", groups[1].StoreKey)
	assert.Equal(t, int64(3000), groups[1].SubtotalCents)
	assert.Equal(t, []string{"acme.example", "shop-y.example"}, StoreKeys(groups))
}

func TestNormalizeLinesDoesNotMutateInput(t *testing.T) {
	lines := types.CartLines{{StoreKey: "WWW.Acme.Example"}}
	out := NormalizeLines(lines)
	assert.Equal(t, "acme.example", out[0].StoreKey)
	assert.Equal(t, "WWW.Acme.Example", lines[0].StoreKey)
}

func TestValidateLines(t *testing.T) {
	require.NoError(t, ValidateLines(types.CartLines{
		{StoreKey: "acme.example", VariantID: "v1", Title: "Mug", UnitPriceCents: 100, Quantity: 1},
	}))

	err := ValidateLines(nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	err = ValidateLines(types.CartLines{
		{StoreKey: "acme.example", VariantID: "v1", Title: "Mug", UnitPriceCents: 100, Quantity: 0},
		{StoreKey: " ", VariantID: "v2", Title: "Tee", UnitPriceCents: 100, Quantity: 1},
		{StoreKey: "acme.example", VariantID: "v3", Title: "Cap", UnitPriceCents: 100, Quantity: 1},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	violations, ok := details["violations"].([]LineViolationDetail)
	require.True(t, ok)
	require.Len(t, violations, 2)
	assert.Equal(t, 0, violations[0].Index)
	assert.Equal(t, "quantity must be positive", violations[0].Reason)
	assert.Equal(t, "store key is required", violations[1].Reason)
}
