package order

import (
	"context"
	"errors"
	"testing"

	"rewardmint/pkg/errutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type assetLookupMock struct {
	assetForFn func(ctx context.Context, contractID int64, productID string) (*uint32, error)
}

func (m *assetLookupMock) AssetFor(ctx context.Context, contractID int64, productID string) (*uint32, error) {
	if m.assetForFn != nil {
		return m.assetForFn(ctx, contractID, productID)
	}
	return nil, nil
}

func u32(v uint32) *uint32 { return &v }

func TestNormalize(t *testing.T) {
	src := NewSource(SourceParams{Assets: &assetLookupMock{
		assetForFn: func(ctx context.Context, contractID int64, productID string) (*uint32, error) {
			require.Equal(t, int64(5), contractID)
			if productID == "mapped" {
				return u32(7), nil
			}
			return nil, nil
		},
	}})

	o, err := src.Normalize(context.Background(), 5, Payload{
		ID:         " 1001 ",
		TotalPrice: "12.50",
		LineItems: []PayloadItem{
			{ProductID: "mapped", Price: "5.25", Quantity: 2},
			{ProductID: "other", Price: "2", Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "1001", o.ID)
	require.True(t, decimal.RequireFromString("12.5").Equal(o.Total))
	require.Len(t, o.LineItems, 2)
	require.Equal(t, uint32(7), *o.LineItems[0].AssetID)
	require.True(t, decimal.RequireFromString("10.5").Equal(o.LineItems[0].Subtotal()))
	require.Nil(t, o.LineItems[1].AssetID)
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		field   string
	}{
		{"missing id", Payload{TotalPrice: "1"}, "id"},
		{"bad total", Payload{ID: "1", TotalPrice: "abc"}, "total_price"},
		{"bad price", Payload{ID: "1", TotalPrice: "1", LineItems: []PayloadItem{{Price: "x", Quantity: 1}}}, "line_items[0].price"},
	}
	src := NewSource(SourceParams{Assets: &assetLookupMock{}})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Normalize(context.Background(), 5, tt.payload)
			require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

			var base errutil.BaseError
			require.ErrorAs(t, err, &base)
			require.Equal(t, tt.field, base.Details[0].Field)
		})
	}
}

func TestNormalizeLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	src := NewSource(SourceParams{Assets: &assetLookupMock{
		assetForFn: func(ctx context.Context, contractID int64, productID string) (*uint32, error) {
			return nil, boom
		},
	}})

	_, err := src.Normalize(context.Background(), 5, Payload{
		ID: "1", TotalPrice: "1", LineItems: []PayloadItem{{ProductID: "p", Price: "1", Quantity: 1}},
	})
	require.ErrorIs(t, err, boom)
}
