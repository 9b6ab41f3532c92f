package app

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/kinegraphx/orchestrator/config"
	"github.com/kinegraphx/orchestrator/internal/registry"
	"github.com/kinegraphx/orchestrator/internal/shell"
	"github.com/kinegraphx/orchestrator/util/conf"
	"github.com/kinegraphx/orchestrator/util/logging"
	"github.com/kinegraphx/orchestrator/workers"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// provide worker definitions
		workers.Module(),
		// provide registry
		registry.Module(),
	)

	return shell.New(log, sharedModule), nil
}
