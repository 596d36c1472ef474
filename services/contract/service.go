package contract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rewardmint/pkg/celengine"
	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"
	"rewardmint/pkg/repository"
	"rewardmint/services/asset"
	"rewardmint/services/order"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssetResolver is satisfied by *asset.Resolver.
type AssetResolver interface {
	ResolveOrCreate(ctx context.Context, desired *uint32, meta asset.Metadata) (uint32, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	contracts repository.Repository[Contract]
	products  repository.Repository[ProductAsset]
	resolver  AssetResolver
	rules     *celengine.Engine

	decimals uint8
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Resolver AssetResolver
	Rules    *celengine.Engine
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		contracts: repository.ProvideStore[Contract](p.DB),
		products:  repository.ProvideStore[ProductAsset](p.DB),
		resolver:  p.Resolver,
		rules:     p.Rules,
		decimals:  uint8(p.Config.Reward.Decimals),
	}
}

// Create registers a reward program and binds it to an asset through the resolver.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Contract, error) {
	name := strings.TrimSpace(req.Name)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	var details []errutil.Detail
	if name == "" {
		details = append(details, errutil.Detail{Field: "name", Message: "required"})
	}
	if symbol == "" {
		details = append(details, errutil.Detail{Field: "symbol", Message: "required"})
	}
	rule := strings.TrimSpace(req.Rule)
	if err := s.validateRule(rule); err != nil {
		details = append(details, errutil.Field("rule", "%v", err))
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid contract", nil, errutil.WithDetails(details...))
	}

	zapLog := zap.L().With(zap.String("shop_domain", req.ShopDomain), zap.String("symbol", symbol))

	assetID, err := s.resolver.ResolveOrCreate(ctx, req.AssetID, asset.Metadata{
		Name:     name,
		Symbol:   symbol,
		Decimals: s.decimals,
	})
	if err != nil {
		zapLog.Error("failed to resolve contract asset", zap.Error(err))
		return nil, err
	}

	c := &Contract{
		ID:         s.node.Generate().Int64(),
		ShopDomain: req.ShopDomain,
		Name:       name,
		Symbol:     symbol,
		Decimals:   s.decimals,
		AssetID:    &assetID,
		Rule:       rule,
	}
	c.Slug = slug.Make(strings.Join([]string{req.ShopDomain, name, strconv.FormatInt(c.ID, 36)}, " "))

	if err := s.contracts.Create(ctx, c); err != nil {
		zapLog.Error("failed to create contract", zap.Error(err))
		return nil, err
	}

	zapLog.Info("contract created", zap.Int64("contract_id", c.ID), zap.Uint32("asset_id", assetID))
	return c, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Contract, error) {
	c, err := s.contracts.FindOne(ctx, &Contract{ID: id})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("contract not found", nil)
	}
	return c, nil
}

// OverrideAsset rebinds a contract. The new asset passes the same ownership
// and allocation checks as contract setup.
func (s *Service) OverrideAsset(ctx context.Context, id int64, assetID uint32) (*Contract, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.ResolveOrCreate(ctx, &assetID, asset.Metadata{
		Name:     c.Name,
		Symbol:   c.Symbol,
		Decimals: c.Decimals,
	})
	if err != nil {
		return nil, err
	}

	if err := s.contracts.Update(ctx, strconv.FormatInt(id, 10), map[string]any{
		"asset_id":   resolved,
		"updated_at": time.Now(),
	}); err != nil {
		return nil, err
	}

	zap.L().Info("contract asset overridden", zap.Int64("contract_id", id), zap.Uint32("asset_id", resolved))
	c.AssetID = &resolved
	return c, nil
}

// MapProduct points a product at an asset, verified through the resolver.
func (s *Service) MapProduct(ctx context.Context, contractID int64, productID string, assetID uint32) (*ProductAsset, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, errutil.ValidationFailed("product id is required", nil)
	}

	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.ResolveOrCreate(ctx, &assetID, asset.Metadata{
		Name:     c.Name,
		Symbol:   c.Symbol,
		Decimals: c.Decimals,
	})
	if err != nil {
		return nil, err
	}

	m := &ProductAsset{
		ID:         s.node.Generate().Int64(),
		ContractID: contractID,
		ProductID:  productID,
		AssetID:    resolved,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"asset_id", "updated_at"}),
	}).Create(m).Error; err != nil {
		return nil, err
	}

	return m, nil
}

// AssetFor returns the product's mapped asset, falling back to the contract default.
func (s *Service) AssetFor(ctx context.Context, contractID int64, productID string) (*uint32, error) {
	if productID != "" {
		m, err := s.products.FindOne(ctx, &ProductAsset{ContractID: contractID, ProductID: productID})
		if err != nil {
			return nil, err
		}
		if m != nil {
			id := m.AssetID
			return &id, nil
		}
	}

	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return c.AssetID, nil
}

func (s *Service) validateRule(rule string) error {
	if rule == "" {
		return nil
	}
	return s.rules.Validate(rule)
}

// UpdateRule replaces the contract's eligibility rule. An empty rule rewards
// every order.
func (s *Service) UpdateRule(ctx context.Context, id int64, rule string) (*Contract, error) {
	rule = strings.TrimSpace(rule)
	if err := s.validateRule(rule); err != nil {
		return nil, errutil.ValidationFailed("invalid rule", err,
			errutil.WithDetails(errutil.Field("rule", "%v", err)))
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.contracts.Update(ctx, strconv.FormatInt(id, 10), map[string]any{
		"rule":       rule,
		"updated_at": time.Now(),
	}); err != nil {
		return nil, err
	}

	c.Rule = rule
	return c, nil
}

// Eligible evaluates the contract's rule against o.
func (s *Service) Eligible(ctx context.Context, contractID int64, o *order.Order) (bool, error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return false, err
	}
	if c.Rule == "" {
		return true, nil
	}

	ok, err := s.rules.Evaluate(c.Rule, map[string]any{celengine.OrderVar: orderVars(o)})
	if err != nil {
		return false, errutil.UnprocessableEntity(fmt.Sprintf("contract rule failed for order %s", o.ID), err)
	}
	return ok, nil
}

func orderVars(o *order.Order) map[string]any {
	items := make([]any, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		item := map[string]any{
			"product_id": li.ProductID,
			"price":      li.Price.InexactFloat64(),
			"quantity":   li.Quantity,
		}
		if li.AssetID != nil {
			item["asset_id"] = int64(*li.AssetID)
		}
		items = append(items, item)
	}
	return map[string]any{
		"id":         o.ID,
		"total":      o.Total.InexactFloat64(),
		"line_items": items,
	}
}
