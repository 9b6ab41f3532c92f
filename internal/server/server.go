package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type HttpServerParams struct {
	fx.In

	Config HttpConfig

	Handlers []*HttpHandler `group:"handlers"`
	Logger   *zap.Logger
}

type HttpServer struct {
	addr   string
	server *http.Server
	log    *zap.Logger
}

func NewHttpServer(params HttpServerParams) *HttpServer {
	mux := http.NewServeMux()

	for _, handler := range params.Handlers {
		params.Logger.Debug("registering route", zap.String("pattern", handler.Pattern))
		mux.Handle(handler.Pattern, handler.Handler)
	}

	var handler http.Handler = mux
	if params.Config.H2c {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}

	server := &http.Server{
		Addr:              params.Config.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return &HttpServer{
		addr:   params.Config.Addr(),
		server: server,
		log:    params.Logger,
	}
}

// NewLifecycleServer binds the listener when the application starts, so a
// taken port fails the start, and shuts the application down if serving
// ends unexpectedly.
func NewLifecycleServer(params HttpServerParams, lc fx.Lifecycle, sd fx.Shutdowner) *HttpServer {
	server := NewHttpServer(params)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := server.Listen(ctx)
			if err != nil {
				return err
			}

			go func() {
				if err := server.Serve(listener); err != nil {
					sd.Shutdown(fx.ExitCode(1))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}

func (s *HttpServer) Listen(ctx context.Context) (net.Listener, error) {
	cfg := net.ListenConfig{}

	listener, err := cfg.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.log.Error("failed to listen", zap.Error(err), zap.String("address", s.addr))
		return nil, err
	}

	s.log.Info("listening", zap.String("address", listener.Addr().String()))

	return listener, nil
}

// Serve blocks until the server is shut down. It returns nil after a
// regular shutdown.
func (s *HttpServer) Serve(listener net.Listener) error {
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("failed to serve", zap.Error(err))
		return err
	}

	return nil
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error("failed to shutdown", zap.Error(err))
		return err
	}

	return nil
}
