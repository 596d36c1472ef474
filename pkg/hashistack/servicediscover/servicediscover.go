package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"rewardmint/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP server with consul when CONSUL.ADDR is set.
var Module = fx.Module("servicediscover",
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return err
		}
		host = h
	}
	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("HTTP_SERVER.ADDR must be a port number for consul registration: %w", err)
	}

	registry, err := NewConsulRegistry(cfg.Consul.Addr, cfg.AppName, fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port), host, port)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: registry.Register,
		OnStop:  registry.Deregister,
	})
	return nil
}

var _ ServiceRegistry = (*ConsulRegistry)(nil)

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

func NewConsulRegistry(address, serviceName, serviceID, host string, port int) (*ConsulRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	service := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%d/readyz", host, port),
			Interval: "10s",
			Timeout:  "5s",
		},
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: serviceID,
		service:   service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	if err := r.client.Agent().ServiceRegister(r.service); err != nil {
		return err
	}
	zap.L().Info("[Consul] Service registered", zap.String("service_id", r.serviceID))
	return nil
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return err
	}
	zap.L().Info("[Consul] Service deregistered", zap.String("service_id", r.serviceID))
	return nil
}
