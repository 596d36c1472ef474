package reward

import (
	"rewardmint/services/order"

	"github.com/shopspring/decimal"
)

// AssetGroup collects the line items that earn the same asset.
type AssetGroup struct {
	AssetID uint32
	Total   decimal.Decimal
	Items   []order.LineItem
}

// GroupByAsset groups items by asset in first-seen order. Items without an
// asset are skipped.
func GroupByAsset(items []order.LineItem) []AssetGroup {
	var groups []AssetGroup
	index := make(map[uint32]int)

	for _, item := range items {
		if item.AssetID == nil {
			continue
		}
		id := *item.AssetID
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, AssetGroup{AssetID: id, Total: decimal.Zero})
		}
		groups[i].Total = groups[i].Total.Add(item.Subtotal())
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}
