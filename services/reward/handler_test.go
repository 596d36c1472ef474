package reward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rewardmint/pkg/db/pagination"
	"rewardmint/services/order"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type normalizerMock struct {
	normalizeFn func(ctx context.Context, contractID int64, p order.Payload) (*order.Order, error)
}

func (m *normalizerMock) Normalize(ctx context.Context, contractID int64, p order.Payload) (*order.Order, error) {
	if m.normalizeFn != nil {
		return m.normalizeFn(ctx, contractID, p)
	}
	asset := uint32(1)
	return &order.Order{
		ID:        p.ID,
		Total:     decimal.RequireFromString(p.TotalPrice),
		LineItems: []order.LineItem{{Price: decimal.RequireFromString(p.TotalPrice), Quantity: 1, AssetID: &asset}},
	}, nil
}

type handlerFixture struct {
	mux   *runtime.ServeMux
	store Store
	enq   *enqueuerMock
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := newTestStore(t)
	enq := &enqueuerMock{}
	h := NewHandler(HandlerParams{
		Store:  store,
		Source: &normalizerMock{},
		Task:   newTestTask(enq, &reconcilerMock{}, store),
	})
	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(mux, h))
	return &handlerFixture{mux: mux, store: store, enq: enq}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func TestHandleReconcile(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"wallet":"` + wallet + `","order":{"total_price":"12.50","line_items":[{"product_id":"p1","price":"12.50","quantity":1}]}}`
	w := f.do(http.MethodPost, "/v1/contracts/5/orders/1001/reconcile", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "reward:5:1001", resp.TaskID)
	require.False(t, resp.AlreadyProcessed)
	require.Len(t, f.enq.tasks, 1)
}

func TestHandleReconcileAlreadyRewarded(t *testing.T) {
	f := newHandlerFixture(t)
	seedRecord(t, f.store, &RewardRecord{
		ContractID: 5, OrderID: "1001", Wallet: wallet, Amount: "125", Status: StatusSuccess, TxHash: "0xabc",
	})

	w := f.do(http.MethodPost, "/v1/contracts/5/orders/1001/reconcile", `{"wallet":"`+wallet+`","order":{"total_price":"12.50"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.AlreadyProcessed)
	require.Equal(t, "0xabc", resp.Record.TxHash)
	require.Empty(t, f.enq.tasks)
}

func TestHandleReconcileRejects(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad contract id", "/v1/contracts/abc/orders/1/reconcile", `{"wallet":"` + wallet + `","order":{"total_price":"1"}}`, http.StatusBadRequest},
		{"malformed body", "/v1/contracts/5/orders/1/reconcile", `{`, http.StatusBadRequest},
		{"bad wallet", "/v1/contracts/5/orders/1/reconcile", `{"wallet":"nope","order":{"total_price":"1"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			w := f.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			require.Empty(t, f.enq.tasks)
		})
	}
}

type eligibilityMock struct {
	eligible bool
}

func (m eligibilityMock) Eligible(ctx context.Context, contractID int64, o *order.Order) (bool, error) {
	return m.eligible, nil
}

func TestHandleReconcileIneligible(t *testing.T) {
	store := newTestStore(t)
	enq := &enqueuerMock{}
	h := NewHandler(HandlerParams{
		Store:  store,
		Source: &normalizerMock{},
		Rules:  eligibilityMock{eligible: false},
		Task:   newTestTask(enq, &reconcilerMock{}, store),
	})
	f := &handlerFixture{mux: runtime.NewServeMux(), store: store, enq: enq}
	require.NoError(t, registerHandlers(f.mux, h))

	w := f.do(http.MethodPost, "/v1/contracts/5/orders/1001/reconcile", `{"wallet":"`+wallet+`","order":{"total_price":"1"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Empty(t, enq.tasks)
}

func TestHandleGetReward(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(http.MethodGet, "/v1/contracts/5/orders/1001/reward", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	seedRecord(t, f.store, &RewardRecord{
		ContractID: 5, OrderID: "1001", Wallet: wallet, Amount: "125", Status: StatusSuccess, TxHash: "0xabc",
	})
	w = f.do(http.MethodGet, "/v1/contracts/5/orders/1001/reward", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec RewardRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, "125", rec.Amount)
}

func TestHandleListRewards(t *testing.T) {
	f := newHandlerFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		seedRecord(t, f.store, &RewardRecord{
			ContractID: 5, OrderID: id, Wallet: wallet, Status: StatusSuccess,
		})
	}

	w := f.do(http.MethodGet, "/v1/contracts/5/rewards?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page pagination.Page[RewardRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
	require.True(t, page.PageInfo.HasMore)
	require.Equal(t, "c", page.Data[0].OrderID)

	w = f.do(http.MethodGet, "/v1/contracts/5/rewards?limit=2&cursor="+page.PageInfo.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)

	var next pagination.Page[RewardRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	require.Len(t, next.Data, 1)
	require.False(t, next.PageInfo.HasMore)
	require.Equal(t, "a", next.Data[0].OrderID)

	w = f.do(http.MethodGet, "/v1/contracts/5/rewards?status=bogus", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}
