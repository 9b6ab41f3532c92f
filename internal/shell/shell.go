package shell

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// DefaultStopTimeout leaves room for every worker's grace period and the
// forced kill that may follow it.
const DefaultStopTimeout = 30 * time.Second

type Shell struct {
	log         *zap.Logger
	stopTimeout time.Duration
	options     []fx.Option
}

func New(log *zap.Logger, options ...fx.Option) *Shell {
	return &Shell{
		log:         log,
		stopTimeout: DefaultStopTimeout,
		options:     options,
	}
}

// WithStopTimeout overrides the time given to the application to stop.
func (s *Shell) WithStopTimeout(timeout time.Duration) *Shell {
	s.stopTimeout = timeout
	return s
}

// Run starts the application and blocks until it is asked to stop by the
// OS or by fx.Shutdowner. A non-zero exit code is returned as ExitError.
func (s *Shell) Run(ctx context.Context, options ...fx.Option) error {
	// 0. after run ends, flush the logger
	defer s.log.Sync()

	// 1. create shell context
	shellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 2. create execution context
	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	// 3. create fx application with app context
	fxApp := s.createFxApp(appCtx, options...)
	if err := fxApp.Err(); err != nil {
		s.log.Error("failed to build application", zap.Error(err))
		return NewExitError(1)
	}

	// 4. create start context w/ timeout
	startCtx, cancelStart := context.WithTimeout(shellCtx, fxApp.StartTimeout())
	defer cancelStart()

	// 5. start the application, exit on error
	if err := fxApp.Start(startCtx); err != nil {
		return NewExitError(1)
	}

	// 6. wait for done signal by OS
	sig := <-fxApp.Wait()
	exitCode := sig.ExitCode

	s.log.Debug("stopping", zap.Int("exit_code", exitCode))

	// 7. create shutdown context
	stopCtx, cancelStop := context.WithTimeout(shellCtx, fxApp.StopTimeout())
	defer cancelStop()

	// 8. gracefully shutdown the app, exit on error
	if err := fxApp.Stop(stopCtx); err != nil {
		return NewExitError(1)
	}

	if exitCode != 0 {
		return NewExitError(exitCode)
	}

	return nil
}

func (s *Shell) createFxApp(ctx context.Context, options ...fx.Option) *fx.App {
	return fx.New(
		// inject global execution context
		fx.Supply(fx.Annotate(ctx, fx.As(new(context.Context)))),

		// inject the logger
		fx.Supply(s.log),

		// use the logger also for fx' logs
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: s.log.Named("fx")}
		}),

		// stopping waits for the workers
		fx.StopTimeout(s.stopTimeout),

		// provide shared options
		fx.Options(s.options...),

		// provide command options
		fx.Options(options...),
	)
}
