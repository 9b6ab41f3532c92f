package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/config"
	"github.com/kinegraphx/orchestrator/internal/channel"
	"github.com/kinegraphx/orchestrator/internal/remote"
	"github.com/kinegraphx/orchestrator/util/conf"
	"github.com/kinegraphx/orchestrator/util/logging"
)

var (
	probeCmdDescription = `The probe command connects to the configured remote server
and disconnects again, printing what happened. It exits with
status 1 if the server cannot be reached.`
	probeCmd = &cli.Command{
		Name:        "probe",
		Usage:       "Check that the remote server is reachable.",
		Description: probeCmdDescription,
		Action:      probeAction,
	}
)

func probeAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return err
	}

	if err := probe(ctx.Context, cfg.Remote, log, func(line string) {
		fmt.Fprintln(ctx.App.Writer, line)
	}); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return nil
}

// probe connects to the remote and disconnects again, passing every
// session line to emit.
func probe(ctx context.Context, cfg remote.Config, log *zap.Logger, emit func(string)) error {
	session, err := remote.NewSession(cfg, log)
	if err != nil {
		return err
	}

	ch := channel.New()
	defer func() {
		for _, line := range ch.Drain() {
			emit(line)
		}
	}()

	if err := session.Connect(ctx, ch); err != nil {
		return err
	}

	return session.Disconnect(ch)
}

func init() {
	rootApp.Commands = append(rootApp.Commands, probeCmd)
}
