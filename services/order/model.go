package order

import (
	"github.com/shopspring/decimal"
)

// Order is the normalized order handed to reconciliation.
type Order struct {
	ID        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	LineItems []LineItem      `json:"line_items"`
}

// LineItem carries a nil AssetID when no reward asset is mapped for the
// product.
type LineItem struct {
	ProductID string          `json:"product_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	AssetID   *uint32         `json:"asset_id"`
}

// Subtotal is price times quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(li.Quantity))
}

// Payload is the storefront order shape accepted by the API.
type Payload struct {
	ID         string        `json:"id"`
	TotalPrice string        `json:"total_price"`
	LineItems  []PayloadItem `json:"line_items"`
}

type PayloadItem struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
}
