package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDispatchError(t *testing.T) {
	reg := DefaultRegistry(50, 10)

	cases := []struct {
		name    string
		raw     string
		section string
		errName string
		kind    Kind
	}{
		{"module hex index", `{"module":{"index":50,"error":"0x02000000"}}`, "assets", "NoPermission", KindNoPermission},
		{"module numeric index", `{"module":{"index":50,"error":0}}`, "assets", "BalanceLow", KindInsufficientBalance},
		{"bad asset id", `{"module":{"index":50,"error":"0x14000000"}}`, "assets", "BadAssetId", KindAllocationMismatch},
		{"balances pallet", `{"module":{"index":10,"error":"0x02000000"}}`, "balances", "InsufficientBalance", KindInsufficientBalance},
		{"unit variant", `"badOrigin"`, "system", "BadOrigin", KindNoPermission},
		{"token error", `{"token":"FundsUnavailable"}`, "token", "FundsUnavailable", KindInsufficientBalance},
		{"arithmetic error", `{"arithmetic":"Overflow"}`, "arithmetic", "Overflow", KindUnknownDispatch},
		{"other", `{"other":"custom failure"}`, "system", "Other", KindUnknownDispatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := DecodeDispatchError(json.RawMessage(tc.raw), reg)
			require.NoError(t, err)
			require.NotNil(t, d)
			require.Equal(t, tc.section, d.Section)
			require.Equal(t, tc.errName, d.Name)
			require.Equal(t, tc.kind, Classify(d))
		})
	}
}

func TestDecodeDispatchErrorEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		d, err := DecodeDispatchError(json.RawMessage(raw), nil)
		require.NoError(t, err)
		require.Nil(t, d)
	}
}

func TestDecodeDispatchErrorUnknownPallet(t *testing.T) {
	d, err := DecodeDispatchError(json.RawMessage(`{"module":{"index":99,"error":"0x07000000"}}`), DefaultRegistry(50, 10))
	require.NoError(t, err)
	require.Equal(t, "pallet99", d.Section)
	require.Equal(t, "Error7", d.Name)
	require.Equal(t, KindUnknownDispatch, Classify(d))
}

func TestDecodeDispatchErrorMalformed(t *testing.T) {
	_, err := DecodeDispatchError(json.RawMessage(`[1,2]`), nil)
	require.Error(t, err)

	_, err = DecodeDispatchError(json.RawMessage(`{"module":{"index":50,"error":"zz"}}`), nil)
	require.Error(t, err)
}

func TestFromDispatch(t *testing.T) {
	d := &DispatchError{Section: "assets", Name: "InUse", Docs: "The asset ID is already taken."}
	err := FromDispatch(d, "0xabc")

	require.ErrorIs(t, err, ErrAllocationMismatch)
	require.True(t, err.Race)
	require.Equal(t, "0xabc", TxHashOf(err))
	require.Contains(t, err.Error(), "assets.InUse")
}
