package reward

import (
	"context"
	"testing"
	"time"

	"rewardmint/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	return NewStore(StoreParams{DB: testutil.NewTestDB(t, &RewardRecord{}), Node: testutil.NewNode(t)})
}

func strPtr(s string) *string { return &s }

// seedRecord inserts rec as is, bypassing the claim flow.
func seedRecord(t *testing.T, s Store, rec *RewardRecord) {
	t.Helper()
	gs := s.(*gormStore)
	if rec.ID == 0 {
		rec.ID = gs.node.Generate().Int64()
	}
	require.NoError(t, gs.db.Create(rec).Error)
}

func TestStoreUpdateNeverRewritesSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedRecord(t, s, &RewardRecord{ContractID: 1, OrderID: "A", Wallet: wallet, Amount: "10", Status: StatusFailed, Error: strPtr("Asset 1: boom")})

	got, err := s.Update(ctx, 1, "A", func(cur *RewardRecord) error {
		cur.Status, cur.TxHash, cur.Error = StatusSuccess, "0xabc", nil
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)

	called := false
	_, err = s.Update(ctx, 1, "A", func(cur *RewardRecord) error {
		called = true
		cur.Status, cur.Amount = StatusFailed, "99"
		return nil
	})
	require.ErrorIs(t, err, ErrImmutable)
	require.False(t, called)

	got, err = s.Get(ctx, 1, "A")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.Equal(t, "10", got.Amount)
	require.Equal(t, "0xabc", got.TxHash)
	require.Nil(t, got.Error)
}

func TestStoreUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Update(ctx, 1, "missing", func(*RewardRecord) error { return nil })
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	seedRecord(t, s, &RewardRecord{ContractID: 1, OrderID: "D", Wallet: wallet, Amount: "1", Status: StatusPending, Attempts: 2})
	_, err = s.Update(ctx, 1, "D", func(cur *RewardRecord) error {
		cur.Amount = "500"
		return ErrLeaseLost
	})
	require.ErrorIs(t, err, ErrLeaseLost)

	got, err := s.Get(ctx, 1, "D")
	require.NoError(t, err)
	require.Equal(t, "1", got.Amount)
}

func TestStoreClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "B", Wallet: wallet, Amount: "5"}, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, 1, rec.Attempts)

	_, err = s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "B", Wallet: wallet, Amount: "5"}, now.Add(30*time.Second), now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInProgress)

	later := now.Add(5 * time.Minute)
	rec, err = s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "B", Wallet: wallet, Amount: "5"}, later, later.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, rec.Attempts)

	_, err = s.Update(ctx, 1, "B", func(cur *RewardRecord) error {
		cur.Status, cur.TxHash, cur.LeaseUntil = StatusSuccess, "0xdef", nil
		return nil
	})
	require.NoError(t, err)

	cur, err := s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "B", Wallet: wallet, Amount: "5"}, later.Add(time.Hour), later.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrAlreadyRewarded)
	require.Equal(t, "0xdef", cur.TxHash)
}

func TestStoreClaimFailedRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	seedRecord(t, s, &RewardRecord{ContractID: 1, OrderID: "C", Wallet: wallet, Amount: "0", Status: StatusFailed, Error: strPtr("x")})

	rec, err := s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "C", Wallet: wallet, Amount: "7"}, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, "7", rec.Amount)
}

func TestStoreListRetryable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// expired lease
	_, err := s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "expired", Wallet: wallet}, now.Add(-time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)
	// live lease
	_, err = s.Claim(ctx, &RewardRecord{ContractID: 1, OrderID: "live", Wallet: wallet}, now, now.Add(time.Minute))
	require.NoError(t, err)
	// failed with an unresolved submission
	seedRecord(t, s, &RewardRecord{ContractID: 1, OrderID: "provisional", Wallet: wallet, Status: StatusFailed, PendingTxHash: "3:0x01", Error: strPtr("pending")})
	// plain failure
	seedRecord(t, s, &RewardRecord{ContractID: 1, OrderID: "failed", Wallet: wallet, Status: StatusFailed, Error: strPtr("no")})

	records, err := s.ListRetryable(ctx, now, 10)
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		ids = append(ids, r.OrderID)
	}
	require.ElementsMatch(t, []string{"expired", "provisional"}, ids)
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"1", "2", "3", "4"} {
		seedRecord(t, s, &RewardRecord{ContractID: 9, OrderID: id, Wallet: wallet, Status: StatusSuccess})
	}
	seedRecord(t, s, &RewardRecord{ContractID: 9, OrderID: "5", Wallet: wallet, Status: StatusFailed, Error: strPtr("x")})
	seedRecord(t, s, &RewardRecord{ContractID: 10, OrderID: "1", Wallet: wallet, Status: StatusSuccess})

	page, err := s.List(ctx, ListFilter{ContractID: 9, Status: StatusSuccess, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "4", page[0].OrderID)
	require.Greater(t, page[0].ID, page[1].ID)

	rest, err := s.List(ctx, ListFilter{ContractID: 9, Status: StatusSuccess, AfterID: page[2].ID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "1", rest[0].OrderID)

	all, err := s.List(ctx, ListFilter{ContractID: 9, Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 5)
}
