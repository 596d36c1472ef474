package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/config"
	"rewardmint/pkg/errutil"
	"rewardmint/services/order"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Minter is satisfied by *mint.Executor.
type Minter interface {
	Mint(ctx context.Context, assetID uint32, recipient common.Address, amount *uint256.Int) (string, error)
	Lookup(ctx context.Context, hash string) (*chain.TxReport, error)
}

type Result struct {
	Record           *RewardRecord
	AlreadyProcessed bool
}

// Engine rewards an order at most once, minting one transaction per asset group.
type Engine struct {
	store  Store
	minter Minter

	rate     decimal.Decimal
	decimals int32
	leaseTTL time.Duration

	now    func() time.Time
	tracer trace.Tracer
}

type EngineParams struct {
	fx.In
	Config *config.Config
	Store  Store
	Minter Minter
}

func NewEngine(p EngineParams) (*Engine, error) {
	rate, err := decimal.NewFromString(p.Config.Reward.TokenRate)
	if err != nil {
		return nil, fmt.Errorf("invalid reward token rate %q: %w", p.Config.Reward.TokenRate, err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("reward token rate must be positive, got %s", rate)
	}
	leaseTTL := p.Config.Reward.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	// The lease is renewed before each mint and has to outlive it.
	if floor := p.Config.Ledger.MintTimeout + time.Minute; leaseTTL < floor {
		leaseTTL = floor
	}
	return &Engine{
		store:    p.Store,
		minter:   p.Minter,
		rate:     rate,
		decimals: p.Config.Reward.Decimals,
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("rewardmint/services/reward"),
	}, nil
}

// Reconcile rewards o for contractID into wallet. Per-group mint failures are
// recorded on the returned record; the error is reserved for invalid input,
// contention, storage and ledger connectivity.
func (e *Engine) Reconcile(ctx context.Context, o *order.Order, contractID int64, wallet string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "reward.Reconcile")
	defer span.End()

	if err := validateInput(o, contractID, wallet); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	recipient := common.HexToAddress(wallet)

	span.SetAttributes(
		attribute.Int64("contract_id", contractID),
		attribute.String("order_id", o.ID),
	)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.Int64("contract_id", contractID),
		zap.String("order_id", o.ID),
	)

	existing, err := e.store.Get(ctx, contractID, o.ID)
	if err != nil {
		zapLog.Error("failed to read reward record", zap.Error(err))
		return nil, err
	}
	if existing != nil && existing.Status == StatusSuccess {
		zapLog.Info("order already rewarded", zap.String("tx_hash", existing.TxHash))
		return &Result{Record: existing, AlreadyProcessed: true}, nil
	}

	groups := GroupByAsset(o.LineItems)
	if msg := rejectReason(o, groups); msg != "" {
		return e.reject(ctx, o, contractID, wallet, msg)
	}

	snapshot, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}

	rec, done, err := e.claim(ctx, &RewardRecord{
		ContractID:    contractID,
		OrderID:       o.ID,
		Wallet:        wallet,
		Amount:        o.Total.Mul(e.rate).String(),
		OrderSnapshot: datatypes.JSON(snapshot),
	})
	if err != nil || done != nil {
		if err != nil && !errutil.IsStatus(err, errutil.StatusConflict) {
			zapLog.Error("failed to claim reward record", zap.Error(err))
		}
		return done, err
	}
	attempt := rec.Attempts
	zapLog = zapLog.With(zap.Int("attempt", attempt))

	prev := rec.PreviousGroups()
	results := make([]GroupResult, 0, len(groups))
	for _, g := range groups {
		var before *GroupResult
		if p, ok := prev[g.AssetID]; ok {
			before = &p
		}
		res, err := e.processGroup(ctx, contractID, o.ID, attempt, g, recipient, before)
		if err != nil {
			return e.abandon(ctx, contractID, o.ID, zapLog, err)
		}
		zapLog.Info("asset group processed",
			zap.Uint32("asset_id", res.AssetID),
			zap.String("state", string(res.State)),
			zap.String("tx_hash", res.TxHash),
			zap.String("error", res.Error),
		)
		results = append(results, res)
	}

	final, err := e.store.Update(ctx, contractID, o.ID, func(cur *RewardRecord) error {
		if !holds(cur, attempt) {
			return ErrLeaseLost
		}
		return finalize(cur, results, e.now())
	})
	if err != nil {
		return e.abandon(ctx, contractID, o.ID, zapLog, err)
	}

	if final.Status == StatusFailed {
		span.SetStatus(codes.Error, *final.Error)
		zapLog.Warn("reward failed", zap.String("error", *final.Error), zap.String("pending_tx_hash", final.PendingTxHash))
	} else {
		zapLog.Info("reward succeeded", zap.String("tx_hash", final.TxHash), zap.String("amount", final.Amount))
	}

	for _, r := range results {
		if chain.KindOf(r.err) == chain.KindConnection {
			return &Result{Record: final}, fmt.Errorf("ledger unavailable: %w", r.err)
		}
	}
	return &Result{Record: final}, nil
}

// claim takes the lease for rec. A non-nil Result means there is nothing
// left to do.
func (e *Engine) claim(ctx context.Context, rec *RewardRecord) (*RewardRecord, *Result, error) {
	now := e.now()
	cur, err := e.store.Claim(ctx, rec, now, now.Add(e.leaseTTL))
	switch {
	case errors.Is(err, ErrAlreadyRewarded):
		return nil, &Result{Record: cur, AlreadyProcessed: true}, nil
	case errors.Is(err, ErrInProgress):
		zap.L().Info("reward claim held by another worker", zap.Int64("contract_id", rec.ContractID), zap.String("order_id", rec.OrderID))
		return nil, nil, errutil.Conflict(fmt.Sprintf("reward for order %s is being processed", rec.OrderID), err)
	case err != nil:
		return nil, nil, err
	}
	return cur, nil, nil
}

// holds reports whether attempt is still the lease holder of cur.
func holds(cur *RewardRecord, attempt int) bool {
	return cur.Status == StatusPending && cur.Attempts == attempt
}

// abandon stops an attempt that can no longer write the outcome. A lost lease
// or a record that became success is not an error: another attempt owns it.
func (e *Engine) abandon(ctx context.Context, contractID int64, orderID string, zapLog *zap.Logger, err error) (*Result, error) {
	if !errors.Is(err, ErrLeaseLost) && !errors.Is(err, ErrImmutable) {
		zapLog.Error("failed to write reward record", zap.Error(err))
		return nil, err
	}
	zapLog.Warn("reward record taken over by a later attempt", zap.Error(err))
	cur, gerr := e.store.Get(ctx, contractID, orderID)
	if gerr != nil {
		return nil, gerr
	}
	return &Result{Record: cur, AlreadyProcessed: cur != nil && cur.Status == StatusSuccess}, nil
}

func validateInput(o *order.Order, contractID int64, wallet string) error {
	var details []errutil.Detail
	if o == nil || strings.TrimSpace(o.ID) == "" {
		details = append(details, errutil.Detail{Field: "order_id", Message: "required"})
	}
	if contractID <= 0 {
		details = append(details, errutil.Detail{Field: "contract_id", Message: "must be positive"})
	}
	if _, err := chain.ParseAddress(wallet); err != nil {
		details = append(details, errutil.Detail{Field: "wallet", Message: "must be a 0x-prefixed 20-byte address"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid reconcile request", nil, errutil.WithDetails(details...))
	}
	return nil
}

func rejectReason(o *order.Order, groups []AssetGroup) string {
	if !o.Total.IsPositive() {
		return fmt.Sprintf("order total must be positive, got %s", o.Total)
	}
	if len(groups) == 0 {
		return "order has no line items with a reward asset"
	}
	return ""
}

func (e *Engine) reject(ctx context.Context, o *order.Order, contractID int64, wallet, msg string) (*Result, error) {
	rec, done, err := e.claim(ctx, &RewardRecord{ContractID: contractID, OrderID: o.ID, Wallet: wallet, Amount: "0"})
	if err != nil || done != nil {
		return done, err
	}

	now := e.now()
	final, err := e.store.Update(ctx, contractID, o.ID, func(cur *RewardRecord) error {
		if !holds(cur, rec.Attempts) {
			return ErrLeaseLost
		}
		cur.Status, cur.Error = StatusFailed, &msg
		cur.LeaseUntil, cur.ProcessedAt = nil, &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Record: final}, errutil.ValidationFailed(msg, nil)
}

// processGroup mints one asset group. The group is marked submitting under
// the lease before the ledger sees it, and the outcome is written right after,
// so a later attempt never mints a group whose outcome it cannot see. The
// error is reserved for storage failures and a lost lease.
func (e *Engine) processGroup(ctx context.Context, contractID int64, orderID string, attempt int, g AssetGroup, recipient common.Address, before *GroupResult) (GroupResult, error) {
	tokens := g.Total.Mul(e.rate)
	res := GroupResult{AssetID: g.AssetID, Amount: tokens.String(), Attempt: attempt}

	if before != nil {
		switch before.State {
		case GroupMinted, GroupSubmitting:
			return *before, nil
		case GroupProvisional:
			if settled, done := e.settleProvisional(ctx, *before); done {
				return settled, nil
			}
		}
	}

	amount, err := e.toBaseUnits(tokens)
	if err != nil {
		res.State, res.Error, res.err = GroupFailed, err.Error(), err
		return res, nil
	}
	if amount.IsZero() {
		res.State, res.Error = GroupFailed, "reward amount is zero"
		return res, nil
	}

	if _, err := e.store.Update(ctx, contractID, orderID, func(cur *RewardRecord) error {
		if !holds(cur, attempt) {
			return ErrLeaseLost
		}
		lease := e.now().Add(e.leaseTTL)
		cur.LeaseUntil = &lease
		return cur.SetGroup(GroupResult{AssetID: g.AssetID, Amount: res.Amount, State: GroupSubmitting, Attempt: attempt})
	}); err != nil {
		return res, err
	}

	hash, err := e.minter.Mint(ctx, g.AssetID, recipient, amount)
	switch {
	case err == nil:
		res.State, res.TxHash = GroupMinted, hash
	case chain.KindOf(err) == chain.KindTimeout && chain.TxHashOf(err) != "":
		res.State, res.TxHash, res.Error, res.err = GroupProvisional, chain.TxHashOf(err), err.Error(), err
	default:
		res.State, res.Error, res.err = GroupFailed, err.Error(), err
	}
	return res, e.record(ctx, contractID, orderID, res)
}

// record replaces the submitting marker of res.Attempt with the outcome. It
// lands even after the lease was taken over, and refolds a record that a later
// attempt already finished without it.
func (e *Engine) record(ctx context.Context, contractID int64, orderID string, res GroupResult) error {
	_, err := e.store.Update(ctx, contractID, orderID, func(cur *RewardRecord) error {
		marker, ok := cur.PreviousGroups()[res.AssetID]
		if !ok || marker.State != GroupSubmitting || marker.Attempt != res.Attempt {
			return ErrLeaseLost
		}
		if err := cur.SetGroup(res); err != nil {
			return err
		}
		if cur.Status == StatusFailed {
			return finalize(cur, nil, e.now())
		}
		return nil
	})
	if err != nil {
		zap.L().Error("failed to record mint outcome",
			zap.Int64("contract_id", contractID),
			zap.String("order_id", orderID),
			zap.Uint32("asset_id", res.AssetID),
			zap.String("tx_hash", res.TxHash),
			zap.Error(err),
		)
	}
	return err
}

// settleProvisional checks an earlier timed-out submission. done is false when
// the submission is known to have failed and the group should be minted again.
func (e *Engine) settleProvisional(ctx context.Context, before GroupResult) (GroupResult, bool) {
	res := before
	report, err := e.minter.Lookup(ctx, before.TxHash)
	if err != nil {
		res.Error, res.err = fmt.Sprintf("previous submission %s could not be checked: %v", before.TxHash, err), err
		return res, true
	}
	switch {
	case report.Succeeded():
		res.State, res.Error = GroupMinted, ""
		return res, true
	case report.Pending():
		res.Error = fmt.Sprintf("previous submission %s is still pending", before.TxHash)
		return res, true
	}
	return GroupResult{}, false
}

func (e *Engine) toBaseUnits(tokens decimal.Decimal) (*uint256.Int, error) {
	if tokens.IsNegative() {
		return nil, fmt.Errorf("reward amount %s is negative", tokens)
	}
	scaled := tokens.Shift(e.decimals).Truncate(0)
	amount, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("reward amount %s overflows", tokens)
	}
	return amount, nil
}

// finalize merges results into rec and folds every stored group into the
// terminal status. Groups are ordered as in results, followed by stored
// groups missing from results. A submitting group counts as a failure.
func finalize(rec *RewardRecord, results []GroupResult, now time.Time) error {
	for _, r := range results {
		if r.State == GroupSubmitting {
			continue
		}
		if err := rec.SetGroup(r); err != nil {
			return err
		}
	}

	stored := rec.groupList()
	groups := make([]GroupResult, 0, len(stored))
	seen := make(map[uint32]bool, len(results))
	byAsset := rec.PreviousGroups()
	for _, r := range results {
		if g, ok := byAsset[r.AssetID]; ok && !seen[r.AssetID] {
			groups = append(groups, g)
			seen[r.AssetID] = true
		}
	}
	for _, g := range stored {
		if !seen[g.AssetID] {
			groups = append(groups, g)
		}
	}

	minted := decimal.Zero
	var hashes, pending, failures []string
	for _, g := range groups {
		switch g.State {
		case GroupMinted:
			hashes = append(hashes, g.TxHash)
			if amt, err := decimal.NewFromString(g.Amount); err == nil {
				minted = minted.Add(amt)
			}
		case GroupProvisional:
			pending = append(pending, fmt.Sprintf("%d:%s", g.AssetID, g.TxHash))
			failures = append(failures, fmt.Sprintf("Asset %d: %s", g.AssetID, g.Error))
		case GroupSubmitting:
			failures = append(failures, fmt.Sprintf("Asset %d: submission by attempt %d has no recorded outcome", g.AssetID, g.Attempt))
		default:
			failures = append(failures, fmt.Sprintf("Asset %d: %s", g.AssetID, g.Error))
		}
	}

	b, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	rec.Groups = datatypes.JSON(b)
	rec.TxHash = strings.Join(hashes, ",")
	rec.Amount = minted.String()
	rec.PendingTxHash = strings.Join(pending, ",")
	rec.LeaseUntil = nil
	rec.ProcessedAt = &now

	if len(failures) == 0 {
		rec.Status, rec.Error = StatusSuccess, nil
		return nil
	}
	msg := strings.Join(failures, "; ")
	rec.Status, rec.Error = StatusFailed, &msg
	return nil
}
