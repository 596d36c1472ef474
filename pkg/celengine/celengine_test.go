package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	vars := map[string]any{
		OrderVar: map[string]any{
			"total": 25.5,
			"line_items": []any{
				map[string]any{"product_id": "sku-1", "quantity": int64(2)},
			},
		},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"order.total >= 20.0", true},
		{"order.total > 30.0", false},
		{`order.line_items.exists(i, i.product_id == "sku-1")`, true},
		{`order.line_items.all(i, i.quantity > 5)`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, vars)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	require.NoError(t, e.Validate("order.total > 10.0"))
	require.Error(t, e.Validate("order.total >"))
	require.Error(t, e.Validate(`"not a bool"`))
	require.Error(t, e.Validate("customer.vip"))
}

func TestEvaluateNonBool(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	_, err = e.Evaluate("order.total", map[string]any{OrderVar: map[string]any{"total": 1.0}})
	require.Error(t, err)
}
