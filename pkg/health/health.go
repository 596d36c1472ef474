package health

import (
	"context"
	"net/http"
	"time"

	"rewardmint/pkg/chain"
	"rewardmint/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(registerReadiness),
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Health struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps"`
}

type HealthService interface {
	Readiness(ctx context.Context) *Health
}

type health struct {
	db     *gorm.DB
	redis  *redis.Client
	ledger chain.Connector
}

type HealthParams struct {
	fx.In
	DB     *gorm.DB        `optional:"true"`
	Redis  *redis.Client   `optional:"true"`
	Ledger chain.Connector `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:     p.DB,
		redis:  p.Redis,
		ledger: p.Ledger,
	}
}

// Readiness checks every configured dependency with a short deadline.
func (h *health) Readiness(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	this := &Health{Status: StatusHealthy, Deps: make([]Dependency, 0, 3)}
	add := func(name string, err error) {
		dep := Dependency{Name: name, Status: StatusHealthy}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			this.Status = StatusUnhealthy
		}
		this.Deps = append(this.Deps, dep)
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		add(h.db.Name(), err)
	}

	if h.redis != nil {
		add("redis", h.redis.Ping(ctx).Err())
	}

	if h.ledger != nil {
		_, err := h.ledger.Connection(ctx)
		add("ledger", err)
	}

	return this
}

func registerReadiness(mux *runtime.ServeMux, h HealthService) error {
	return mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		res := h.Readiness(r.Context())
		code := http.StatusOK
		if res.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
			zap.L().Warn("readiness check failed", zap.Any("deps", res.Deps))
		}
		httpapi.WriteJSON(w, code, res)
	})
}
