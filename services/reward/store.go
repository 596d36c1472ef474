package reward

import (
	"context"
	"errors"
	"time"

	"rewardmint/pkg/db/option"
	"rewardmint/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrImmutable means the row is already success and was left untouched.
	ErrImmutable = errors.New("reward record is final")
	// ErrInProgress means another worker holds a live lease on the row.
	ErrInProgress = errors.New("reward record is being processed")
	// ErrAlreadyRewarded is returned by Claim for a success row.
	ErrAlreadyRewarded = errors.New("order already rewarded")
	// ErrLeaseLost means a later attempt claimed the row.
	ErrLeaseLost = errors.New("reward lease lost")
)

// Store persists reward records keyed by (contract_id, order_id). The unique
// index on that pair and the attempts counter fence concurrent workers.
type Store interface {
	Get(ctx context.Context, contractID int64, orderID string) (*RewardRecord, error)
	// Claim marks the row pending under a lease that expires at leaseUntil
	// and bumps attempts. The returned attempts value identifies the holder.
	Claim(ctx context.Context, rec *RewardRecord, now, leaseUntil time.Time) (*RewardRecord, error)
	// Update applies fn to the stored row atomically. A success row is
	// never passed to fn and yields ErrImmutable.
	Update(ctx context.Context, contractID int64, orderID string, fn func(cur *RewardRecord) error) (*RewardRecord, error)
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]*RewardRecord, error)
	// List returns a contract's records newest first, after the afterID cursor.
	List(ctx context.Context, filter ListFilter) ([]*RewardRecord, error)
}

type ListFilter struct {
	ContractID int64
	Status     Status
	AfterID    int64
	Limit      int
}

type gormStore struct {
	db      *gorm.DB
	node    *snowflake.Node
	records repository.Repository[RewardRecord]
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) Store {
	return &gormStore{
		db:      p.DB,
		node:    p.Node,
		records: repository.ProvideStore[RewardRecord](p.DB),
	}
}

var keyColumns = []clause.Column{{Name: "contract_id"}, {Name: "order_id"}}

func (s *gormStore) Get(ctx context.Context, contractID int64, orderID string) (*RewardRecord, error) {
	return s.records.FindOne(ctx, &RewardRecord{ContractID: contractID, OrderID: orderID})
}

// Update runs fn on the current row under a row lock and saves the result.
// An error from fn aborts the write and is returned as is.
func (s *gormStore) Update(ctx context.Context, contractID int64, orderID string, fn func(cur *RewardRecord) error) (*RewardRecord, error) {
	var out *RewardRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.records.WithTrx(tx).FindOne(ctx, &RewardRecord{ContractID: contractID, OrderID: orderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if cur == nil {
			return gorm.ErrRecordNotFound
		}
		if cur.Status == StatusSuccess {
			return ErrImmutable
		}
		if err := fn(cur); err != nil {
			return err
		}
		if err := tx.Save(cur).Error; err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) Claim(ctx context.Context, rec *RewardRecord, now, leaseUntil time.Time) (*RewardRecord, error) {
	if rec.ID == 0 {
		rec.ID = s.node.Generate().Int64()
	}
	rec.Status = StatusPending
	rec.LeaseUntil = &leaseUntil
	rec.Attempts = 1

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   keyColumns,
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, nil
	}

	res = s.db.WithContext(ctx).Model(&RewardRecord{}).
		Where("contract_id = ? AND order_id = ?", rec.ContractID, rec.OrderID).
		Where("status = ? OR (status = ? AND (lease_until IS NULL OR lease_until < ?))", StatusFailed, StatusPending, now).
		Updates(map[string]any{
			"status":         StatusPending,
			"wallet":         rec.Wallet,
			"amount":         rec.Amount,
			"order_snapshot": rec.OrderSnapshot,
			"lease_until":    leaseUntil,
			"attempts":       gorm.Expr("attempts + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	cur, err := s.Get(ctx, rec.ContractID, rec.OrderID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, gorm.ErrRecordNotFound
	}
	if res.RowsAffected == 1 {
		return cur, nil
	}
	if cur.Status == StatusSuccess {
		return cur, ErrAlreadyRewarded
	}
	return cur, ErrInProgress
}

// ListRetryable returns failed rows with unresolved submissions and pending
// rows whose lease has expired.
func (s *gormStore) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*RewardRecord, error) {
	return s.records.Find(ctx, &RewardRecord{},
		option.WithWhere("(status = ? AND pending_tx_hash <> '') OR (status = ? AND lease_until < ?)", StatusFailed, StatusPending, now),
		option.WithSortBy(option.QuerySortBy{Field: "updated_at", OrderBy: "ASC"}),
		option.WithLimit(limit),
	)
}

func (s *gormStore) List(ctx context.Context, f ListFilter) ([]*RewardRecord, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "DESC"}),
		option.WithLimit(f.Limit),
	}
	if f.AfterID > 0 {
		opts = append(opts, option.WithWhere("id < ?", f.AfterID))
	}
	return s.records.Find(ctx, &RewardRecord{ContractID: f.ContractID, Status: f.Status}, opts...)
}
