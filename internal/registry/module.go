package registry

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type LifecycleParams struct {
	fx.In

	Definitions Definitions
	Logger      *zap.Logger
}

// NewLifecycleRegistry creates a registry whose running workers are
// stopped when the application stops.
func NewLifecycleRegistry(params LifecycleParams, lc fx.Lifecycle) (*WorkerRegistry, error) {
	registry, err := New(Params{
		Definitions: params.Definitions,
		Log:         params.Logger,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return registry.Shutdown(ctx)
		},
	})

	return registry, nil
}

func Module() fx.Option {
	return fx.Module("registry",
		// provide registry
		fx.Provide(NewLifecycleRegistry),
		// expose it as manager
		fx.Provide(func(r *WorkerRegistry) Manager { return r }),
	)
}
