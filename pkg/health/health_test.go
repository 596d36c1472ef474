package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/chain/chaintest"
	"rewardmint/services/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestReadiness(t *testing.T) {
	db := testutil.NewTestDB(t)
	ledger := chaintest.New(common.HexToAddress("0x01"))

	h := ProvideHealth(HealthParams{DB: db, Ledger: chaintest.Connector{Ledger: ledger}})
	res := h.Readiness(context.Background())
	require.Equal(t, StatusHealthy, res.Status)
	require.Len(t, res.Deps, 2)
	require.Equal(t, "ledger", res.Deps[1].Name)

	down := ProvideHealth(HealthParams{DB: db, Ledger: chaintest.Connector{Err: chain.ConnectionError(nil, "dial ws://ledger:9944")}})
	res = down.Readiness(context.Background())
	require.Equal(t, StatusUnhealthy, res.Status)
	require.Equal(t, StatusHealthy, res.Deps[0].Status)
	require.Equal(t, StatusUnhealthy, res.Deps[1].Status)
	require.Contains(t, res.Deps[1].Message, "ws://ledger:9944")
}

func TestReadyzEndpoint(t *testing.T) {
	mux := runtime.NewServeMux()
	h := ProvideHealth(HealthParams{Ledger: chaintest.Connector{Err: chain.ConnectionError(nil, "ledger offline")}})
	require.NoError(t, registerReadiness(mux, h))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, StatusUnhealthy, body.Status)
	require.Len(t, body.Deps, 1)
}
