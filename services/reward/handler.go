package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"rewardmint/pkg/db/pagination"
	"rewardmint/pkg/errutil"
	"rewardmint/pkg/httpapi"
	"rewardmint/services/order"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

// Normalizer is satisfied by *order.Source.
type Normalizer interface {
	Normalize(ctx context.Context, contractID int64, p order.Payload) (*order.Order, error)
}

// Eligibility is satisfied by *contract.Service.
type Eligibility interface {
	Eligible(ctx context.Context, contractID int64, o *order.Order) (bool, error)
}

type Handler struct {
	store  Store
	source Normalizer
	rules  Eligibility
	task   *Task
}

type HandlerParams struct {
	fx.In
	Store  Store
	Source Normalizer
	Rules  Eligibility `optional:"true"`
	Task   *Task
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{store: p.Store, source: p.Source, rules: p.Rules, task: p.Task}
}

func registerHandlers(mux *runtime.ServeMux, h *Handler) error {
	routes := []struct {
		method  string
		pattern string
		handler httpapi.HandlerFunc
	}{
		{http.MethodPost, "/v1/contracts/{contract_id}/orders/{order_id}/reconcile", h.handleReconcile},
		{http.MethodGet, "/v1/contracts/{contract_id}/orders/{order_id}/reward", h.handleGet},
		{http.MethodGet, "/v1/contracts/{contract_id}/rewards", h.handleList},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, httpapi.Handle(r.handler)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleReconcile(ctx context.Context, r *http.Request, params map[string]string) (int, any, error) {
	contractID, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	orderID := params["order_id"]

	var req ReconcileRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return 0, nil, err
	}

	existing, err := h.store.Get(ctx, contractID, orderID)
	if err != nil {
		return 0, nil, err
	}
	if existing != nil && existing.Status == StatusSuccess {
		return http.StatusOK, ReconcileResponse{AlreadyProcessed: true, Record: existing}, nil
	}

	var payload order.Payload
	if len(req.Order) > 0 {
		if err := json.Unmarshal(req.Order, &payload); err != nil {
			return 0, nil, errutil.BadRequest("invalid order payload", err)
		}
	}
	payload.ID = orderID

	o, err := h.source.Normalize(ctx, contractID, payload)
	if err != nil {
		return 0, nil, err
	}
	if err := validateInput(o, contractID, req.Wallet); err != nil {
		return 0, nil, err
	}
	if h.rules != nil {
		ok, err := h.rules.Eligible(ctx, contractID, o)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, errutil.UnprocessableEntity(fmt.Sprintf("order %s does not satisfy the contract rule", o.ID), nil)
		}
	}

	info, err := h.task.EnqueueReconcile(ctx, contractID, req.Wallet, o)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusAccepted, ReconcileResponse{TaskID: info.ID}, nil
}

func (h *Handler) handleGet(ctx context.Context, _ *http.Request, params map[string]string) (int, any, error) {
	contractID, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}
	rec, err := h.store.Get(ctx, contractID, params["order_id"])
	if err != nil {
		return 0, nil, err
	}
	if rec == nil {
		return 0, nil, errutil.NotFound(fmt.Sprintf("no reward record for order %s", params["order_id"]), nil)
	}
	return http.StatusOK, rec, nil
}

func (h *Handler) handleList(ctx context.Context, r *http.Request, params map[string]string) (int, any, error) {
	contractID, err := httpapi.Int64Param(params, "contract_id")
	if err != nil {
		return 0, nil, err
	}

	q := r.URL.Query()
	page := pagination.FromQuery(q)
	filter := ListFilter{ContractID: contractID, Status: Status(q.Get("status")), Limit: page.Limit + 1}
	switch filter.Status {
	case "", StatusPending, StatusSuccess, StatusFailed:
	default:
		return 0, nil, errutil.BadRequest("invalid status filter", nil,
			errutil.WithDetails(errutil.Field("status", "must be one of %s, %s or %s", StatusPending, StatusSuccess, StatusFailed)))
	}
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return 0, nil, errutil.BadRequest("invalid cursor", err)
		}
		if filter.AfterID, err = strconv.ParseInt(c.ID, 10, 64); err != nil {
			return 0, nil, errutil.BadRequest("invalid cursor", err)
		}
	}

	records, err := h.store.List(ctx, filter)
	if err != nil {
		return 0, nil, err
	}
	out, err := pagination.BuildPage(records, page.Limit, func(rec *RewardRecord) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(rec.ID, 10)}
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, out, nil
}
