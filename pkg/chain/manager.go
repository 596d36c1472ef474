package chain

import (
	"context"
	"sync"
	"time"

	"rewardmint/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var Module = fx.Module("chain",
	fx.Provide(
		ProvideManager,
		ProvideRegistry,
		provideConnector,
	),
)

// Connector hands out the shared ledger connection.
type Connector interface {
	Connection(ctx context.Context) (Ledger, error)
}

type DialFunc func(ctx context.Context, endpoint string, signer *Signer, pallets Pallets) (Ledger, error)

type ManagerConfig struct {
	Endpoint    string
	SignerKey   string
	Pallets     Pallets
	DialTimeout time.Duration
}

type ManagerOption func(*Manager)

func WithDialer(dial DialFunc) ManagerOption {
	return func(m *Manager) { m.dial = dial }
}

// Manager owns the single lazily opened ledger connection. Concurrent first
// callers share one dial; failures are returned as-is and never retried here.
type Manager struct {
	cfg  ManagerConfig
	dial DialFunc

	mu    sync.Mutex
	conn  Ledger
	group singleflight.Group
}

func NewManager(cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{cfg: cfg, dial: dialRPC}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func ProvideManager(lc fx.Lifecycle, cfg *config.Config) *Manager {
	m := NewManager(ManagerConfig{
		Endpoint:  cfg.Ledger.Endpoint,
		SignerKey: cfg.Ledger.SignerKey,
		Pallets: Pallets{
			Assets:   cfg.Ledger.Pallets.Assets,
			Balances: cfg.Ledger.Pallets.Balances,
		},
		DialTimeout: cfg.Ledger.DialTimeout,
	})

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			m.Close()
			return nil
		},
	})

	return m
}

func ProvideRegistry(cfg *config.Config) *ErrorRegistry {
	return DefaultRegistry(cfg.Ledger.Pallets.Assets, cfg.Ledger.Pallets.Balances)
}

func provideConnector(m *Manager) Connector {
	return m
}

func dialRPC(ctx context.Context, endpoint string, signer *Signer, pallets Pallets) (Ledger, error) {
	return Dial(ctx, endpoint, signer, pallets)
}

func (m *Manager) Connection(ctx context.Context) (Ledger, error) {
	if conn := m.current(); conn != nil {
		return conn, nil
	}

	v, err, _ := m.group.Do("connect", func() (any, error) {
		if conn := m.current(); conn != nil {
			return conn, nil
		}

		signer, err := LoadSigner(m.cfg.SignerKey)
		if err != nil {
			return nil, err
		}
		if m.cfg.Endpoint == "" {
			return nil, ConnectionError(nil, "ledger endpoint is not configured")
		}

		dialCtx := ctx
		if m.cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
			defer cancel()
		}

		conn, err := m.dial(dialCtx, m.cfg.Endpoint, signer, m.cfg.Pallets)
		if err != nil {
			if KindOf(err) != KindConnection {
				err = ConnectionError(err, "connect ledger %s", m.cfg.Endpoint)
			}
			zap.L().Error("[Ledger] connection failed", zap.String("endpoint", m.cfg.Endpoint), zap.Error(err))
			return nil, err
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		zap.L().Info("[Ledger] connected",
			zap.String("endpoint", m.cfg.Endpoint),
			zap.String("signer", signer.Address().Hex()),
		)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Ledger), nil
}

// current returns the cached connection, dropping it once its transport closed.
func (m *Manager) current() Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	if c, ok := m.conn.(interface{ Closed() bool }); ok && c.Closed() {
		zap.L().Warn("[Ledger] cached connection closed, will redial")
		m.conn = nil
		return nil
	}
	return m.conn
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conn.(interface{ Close() }); ok {
		c.Close()
	}
	m.conn = nil
}
