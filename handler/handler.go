package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/handler/schema"
	"github.com/kinegraphx/orchestrator/internal/registry"
)

type WorkerHandlerParams struct {
	fx.In

	Manager registry.Manager
	Log     *zap.Logger
}

func NewWorkerHandler(params WorkerHandlerParams) (*WorkerHandler, error) {
	requestSchema, err := schema.NewWorkerRequestSchema()
	if err != nil {
		return nil, err
	}

	return &WorkerHandler{
		manager: params.Manager,
		schema:  requestSchema,
		log:     params.Log,
	}, nil
}

// WorkerHandler exposes the registry operations over HTTP.
type WorkerHandler struct {
	manager registry.Manager
	schema  *schema.Schema
	log     *zap.Logger
}

type workerRequest struct {
	Name string `json:"name"`
}

type operation func(ctx context.Context, name string) (registry.Status, error)

func (h *WorkerHandler) Start() http.Handler {
	return h.command(h.manager.Start)
}

func (h *WorkerHandler) Stop() http.Handler {
	return h.command(h.manager.Stop)
}

func (h *WorkerHandler) Restart() http.Handler {
	return h.command(h.manager.Restart)
}

// Status reports the worker named in the path. It always answers 200, the
// status string tells unknown workers apart.
func (h *WorkerHandler) Status() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		h.writeJSON(w, http.StatusOK, newResponse(h.manager.Status(name), nil))
	})
}

func (h *WorkerHandler) List() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, struct {
			Workers []registry.Summary `json:"workers"`
		}{
			Workers: h.manager.List(),
		})
	})
}

func (h *WorkerHandler) command(op operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := h.log.With(
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
		)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Debug("failed to read body", zap.Error(err))
			h.writeError(w, errReadBody)
			return
		}

		if err := h.schema.Validate(body); err != nil {
			log.Debug("invalid request", zap.Error(err))
			h.writeError(w, err)
			return
		}

		var req workerRequest
		if err := json.Unmarshal(body, &req); err != nil {
			log.Debug("failed to decode request", zap.Error(err))
			h.writeError(w, errReadBody)
			return
		}

		log = log.With(zap.String("worker", req.Name))

		status, err := op(r.Context(), req.Name)
		if err != nil {
			log.Debug("operation failed", zap.Error(err))
		}

		h.writeJSON(w, getErrorStatusCode(err), newResponse(status, err))
	})
}

func (h *WorkerHandler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, getErrorStatusCode(err), newResponse(registry.Status{}, err))
}

func (h *WorkerHandler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(body); err != nil {
		h.log.Debug("failed to write response", zap.Error(err))
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
