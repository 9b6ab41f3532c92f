package standalone

import (
	"go.uber.org/fx"

	"github.com/kinegraphx/orchestrator/handler"
	"github.com/kinegraphx/orchestrator/internal/server"
	"github.com/kinegraphx/orchestrator/util/logging"
)

func Module(config Config) fx.Option {
	return fx.Module(
		"serve",
		// rename logger for module
		logging.DecorateLogger("serve"),
		// provide handlers
		handler.Module(),
		// provide server
		server.Module(config.Http),
	)
}
