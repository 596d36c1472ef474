package reward

import (
	"context"

	"rewardmint/pkg/chain"

	"github.com/gogo/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

// Health serves grpc.health.v1 for the reward pipeline. It reports SERVING
// when both the database and the ledger gateway are reachable.
type Health struct {
	grpc_health_v1.UnimplementedHealthServer
	db   *gorm.DB
	conn chain.Connector
}

type HealthParams struct {
	fx.In
	DB   *gorm.DB
	Conn chain.Connector
}

func NewHealth(p HealthParams) *Health {
	return &Health{db: p.DB, conn: p.Conn}
}

func (h *Health) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	sqlDB, err := h.db.DB()
	if err != nil {
		return nil, status.Error(codes.Internal, "db not ready")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		zap.L().Warn("health check: database unreachable", zap.Error(err))
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}

	if _, err := h.conn.Connection(ctx); err != nil {
		zap.L().Warn("health check: ledger unreachable", zap.Error(err))
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}

	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (h *Health) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch method not implemented")
}

func registerHealthServer(srv *grpc.Server, h *Health) {
	grpc_health_v1.RegisterHealthServer(srv, h)
}
