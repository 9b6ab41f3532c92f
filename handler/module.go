package handler

import (
	"go.uber.org/fx"

	"github.com/kinegraphx/orchestrator/util/logging"
)

func Module() fx.Option {
	return fx.Module("handler",
		// rename logger for module
		logging.DecorateLogger("handler"),
		// provide handler
		fx.Provide(NewWorkerHandler),
		// provide routes
		fx.Provide(NewStartRoute),
		fx.Provide(NewStopRoute),
		fx.Provide(NewRestartRoute),
		fx.Provide(NewStatusRoute),
		fx.Provide(NewListRoute),
		fx.Provide(NewHealthRoute),
	)
}
