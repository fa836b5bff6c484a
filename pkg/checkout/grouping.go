package checkout

import (
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/types"
)

// StoreGroup is the slice of a cart that belongs to one storefront.
type StoreGroup struct {
	StoreKey      string
	Lines         types.CartLines
	SubtotalCents int64
	Grams         int64
	ItemCount     int
}

// NormalizeLines returns a copy of lines with every store key in canonical form.
func NormalizeLines(lines types.CartLines) types.CartLines {
	out := make(types.CartLines, len(lines))
	for i, line := range lines {
		line.StoreKey = storekey.Normalize(line.StoreKey)
		out[i] = line
	}
	return out
}

// GroupByStore partitions lines by canonical store key, preserving the order
// in which each storefront first appears in the cart.
func GroupByStore(lines types.CartLines) []StoreGroup {
	index := make(map[string]int)
	var groups []StoreGroup
	for _, line := range lines {
		key := storekey.Normalize(line.StoreKey)
		line.StoreKey = key
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, StoreGroup{StoreKey: key})
		}
		group := &groups[pos]
		group.Lines = append(group.Lines, line)
		group.SubtotalCents += line.TotalCents()
		group.Grams += line.Grams * int64(line.Quantity)
		group.ItemCount += line.Quantity
	}
	return groups
}

// StoreKeys lists the canonical keys of the groups in order.
func StoreKeys(groups []StoreGroup) []string {
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, g.StoreKey)
	}
	return keys
}
