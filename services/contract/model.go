package contract

import "time"

// Contract is a merchant reward program bound to one default asset. Rule is
// an optional CEL expression an order must satisfy to be rewarded.
type Contract struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	ShopDomain string    `gorm:"column:shop_domain;index" json:"shop_domain"`
	Name       string    `gorm:"column:name" json:"name"`
	Symbol     string    `gorm:"column:symbol" json:"symbol"`
	Slug       string    `gorm:"column:slug;uniqueIndex" json:"slug"`
	Decimals   uint8     `gorm:"column:decimals" json:"decimals"`
	AssetID    *uint32   `gorm:"column:asset_id" json:"asset_id"`
	Rule       string    `gorm:"column:rule" json:"rule,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Contract) TableName() string {
	return "reward_contracts"
}

// ProductAsset overrides the contract's default asset for one product.
type ProductAsset struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	ContractID int64     `gorm:"column:contract_id;uniqueIndex:idx_product_assets_contract_product" json:"contract_id,string"`
	ProductID  string    `gorm:"column:product_id;uniqueIndex:idx_product_assets_contract_product" json:"product_id"`
	AssetID    uint32    `gorm:"column:asset_id" json:"asset_id"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ProductAsset) TableName() string {
	return "product_assets"
}

type CreateRequest struct {
	ShopDomain string  `json:"shop_domain"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	AssetID    *uint32 `json:"asset_id,omitempty"`
	Rule       string  `json:"rule,omitempty"`
}

type AssetRequest struct {
	AssetID uint32 `json:"asset_id"`
}

type RuleRequest struct {
	Rule string `json:"rule"`
}
