package contract

import (
	"context"
	"net/http"

	"rewardmint/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

func registerHandlers(mux *runtime.ServeMux, s *Service) error {
	routes := []struct {
		method  string
		pattern string
		handler httpapi.HandlerFunc
	}{
		{http.MethodPost, "/v1/contracts", s.handleCreate},
		{http.MethodGet, "/v1/contracts/{contract_id}", s.handleGet},
		{http.MethodPut, "/v1/contracts/{contract_id}/asset", s.handleOverrideAsset},
		{http.MethodPut, "/v1/contracts/{contract_id}/rule", s.handleUpdateRule},
		{http.MethodPut, "/v1/contracts/{contract_id}/products/{product_id}", s.handleMapProduct},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, httpapi.Handle(r.handler)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleCreate(ctx context.Context, r *http.Request, _ map[string]string) (int, any, error) {
	var req CreateRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.Create(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, c, nil
}

func (s *Service) handleGet(ctx context.Context, _ *http.Request, params map[string]string) (int, any, error) {
	id, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, c, nil
}

func (s *Service) handleOverrideAsset(ctx context.Context, r *http.Request, params map[string]string) (int, any, error) {
	id, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	var req AssetRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.OverrideAsset(ctx, id, req.AssetID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, c, nil
}

func (s *Service) handleMapProduct(ctx context.Context, r *http.Request, params map[string]string) (int, any, error) {
	id, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	var req AssetRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	m, err := s.MapProduct(ctx, id, params["product_id"], req.AssetID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, m, nil
}

func (s *Service) handleUpdateRule(ctx context.Context, r *http.Request, params map[string]string) (int, any, error) {
	id, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	var req RuleRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.UpdateRule(ctx, id, req.Rule)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, c, nil
}
