package server

import (
	"net/http"

	"go.uber.org/fx"
)

// HttpHandler is a route of the front end server. Pattern follows the
// http.ServeMux syntax, e.g. "GET /status_worker/{name}".
type HttpHandler struct {
	Pattern string
	Handler http.Handler
}

type HttpHandlerResult struct {
	fx.Out

	Handler *HttpHandler `group:"handlers"`
}

func AsHttpHandler(
	pattern string,
	handler http.Handler,
) HttpHandlerResult {
	return HttpHandlerResult{
		Handler: &HttpHandler{
			Pattern: pattern,
			Handler: handler,
		},
	}
}
