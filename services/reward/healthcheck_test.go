package reward

import (
	"context"
	"testing"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/chain/chaintest"
	"rewardmint/services/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheck(t *testing.T) {
	db := testutil.NewTestDB(t)
	req := &grpc_health_v1.HealthCheckRequest{}

	h := NewHealth(HealthParams{DB: db, Conn: chaintest.Connector{Ledger: chaintest.New(common.HexToAddress("0x01"))}})
	res, err := h.Check(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, res.Status)

	h = NewHealth(HealthParams{DB: db, Conn: chaintest.Connector{Err: chain.ConnectionError(nil, "ledger offline")}})
	res, err = h.Check(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, res.Status)
}
