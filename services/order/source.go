package order

import (
	"context"
	"fmt"
	"strings"

	"rewardmint/pkg/errutil"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var Module = fx.Module("order.source",
	fx.Provide(NewSource),
)

// AssetLookup resolves the reward asset earned by a product under a contract.
type AssetLookup interface {
	AssetFor(ctx context.Context, contractID int64, productID string) (*uint32, error)
}

type Source struct {
	assets AssetLookup
}

type SourceParams struct {
	fx.In
	Assets AssetLookup
}

func NewSource(p SourceParams) *Source {
	return &Source{assets: p.Assets}
}

// Normalize parses a storefront payload and attaches each line item's asset.
func (s *Source) Normalize(ctx context.Context, contractID int64, p Payload) (*Order, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, errutil.ValidationFailed("order id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "id", Message: "required"}))
	}

	total, err := decimal.NewFromString(strings.TrimSpace(p.TotalPrice))
	if err != nil {
		return nil, errutil.ValidationFailed("invalid total_price", err,
			errutil.WithDetails(errutil.Detail{Field: "total_price", Message: "must be a decimal number"}))
	}

	o := &Order{ID: id, Total: total, LineItems: make([]LineItem, 0, len(p.LineItems))}
	for i, item := range p.LineItems {
		price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
		if err != nil {
			return nil, errutil.ValidationFailed("invalid line item price", err,
				errutil.WithDetails(errutil.Detail{Field: fmt.Sprintf("line_items[%d].price", i), Message: "must be a decimal number"}))
		}

		assetID, err := s.assets.AssetFor(ctx, contractID, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve asset for product %s: %w", item.ProductID, err)
		}

		o.LineItems = append(o.LineItems, LineItem{
			ProductID: item.ProductID,
			Price:     price,
			Quantity:  item.Quantity,
			AssetID:   assetID,
		})
	}

	return o, nil
}
