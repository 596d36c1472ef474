package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"rewardmint/pkg/errutil"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Invoke(
		registerHealthEndpoint,
		registerMetricsEndpoint,
	),
)

const RequestIDHeader = "X-Request-ID"

func registerHealthEndpoint(mux *runtime.ServeMux) {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
	}
}

func registerMetricsEndpoint(mux *runtime.ServeMux) {
	h := promhttp.Handler()
	if err := mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		h.ServeHTTP(w, r)
	}); err != nil {
		zap.L().Error("failed to register metrics endpoint", zap.Error(err))
	}
}

// HandlerFunc is a path handler that reports failures as errors.
type HandlerFunc func(ctx context.Context, r *http.Request, params map[string]string) (int, any, error)

// Handle adapts h to runtime.HandlerFunc, tagging each request with an id.
func Handle(h HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		status, body, err := h(r.Context(), r, params)
		if err != nil {
			zap.L().With(
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			).Warn("request failed", zap.Error(err))
			WriteError(w, err)
			return
		}
		WriteJSON(w, status, body)
	}
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func WriteError(w http.ResponseWriter, err error) {
	base := errutil.FromError(err)
	WriteJSON(w, base.Code.HTTPStatus(), base.JSON())
}

// DecodeJSON reads a JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errutil.BadRequest("failed to read request body", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errutil.BadRequest("invalid JSON body", err)
	}
	return nil
}

// Int64Param parses a numeric path parameter.
func Int64Param(params map[string]string, name string) (int64, error) {
	v, err := strconv.ParseInt(params[name], 10, 64)
	if err != nil {
		return 0, errutil.BadRequest("invalid "+name, err,
			errutil.WithDetails(errutil.Detail{Field: name, Message: "must be an integer"}))
	}
	return v, nil
}
