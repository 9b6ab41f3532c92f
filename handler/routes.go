package handler

import (
	"net/http"

	"github.com/kinegraphx/orchestrator/internal/server"
)

func NewStartRoute(handler *WorkerHandler) server.HttpHandlerResult {
	return server.AsHttpHandler("POST /start_worker", handler.Start())
}

func NewStopRoute(handler *WorkerHandler) server.HttpHandlerResult {
	return server.AsHttpHandler("POST /stop_worker", handler.Stop())
}

func NewRestartRoute(handler *WorkerHandler) server.HttpHandlerResult {
	return server.AsHttpHandler("POST /restart_worker", handler.Restart())
}

func NewStatusRoute(handler *WorkerHandler) server.HttpHandlerResult {
	return server.AsHttpHandler("GET /status_worker/{name}", handler.Status())
}

func NewListRoute(handler *WorkerHandler) server.HttpHandlerResult {
	return server.AsHttpHandler("GET /workers", handler.List())
}

func NewHealthRoute() server.HttpHandlerResult {
	return server.AsHttpHandler("GET /health", http.HandlerFunc(HealthHandler))
}
