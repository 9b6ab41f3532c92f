package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kinegraphx/orchestrator/app/standalone"
	"github.com/kinegraphx/orchestrator/config"
)

func TestParseConfig_Layers(t *testing.T) {
	dir := t.TempDir()

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ORCHESTRATOR_WORKERS__PLAYBACK__SENTINEL=stop.txt\n"), 0o644))

	configFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{"remote": {"timeout": "3s"}}`), 0o644))

	t.Setenv("SSH_ADDR", "ubuntu@gpu-box")
	t.Setenv("ORCHESTRATOR_WORKERS__CLIENT__GRACE", "3s")

	var (
		cfg     config.Config
		httpCfg standalone.Config
	)

	testApp := &cli.App{
		Name:  "test",
		Flags: rootApp.Flags,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Flags: serveCmd.Flags,
				Action: func(ctx *cli.Context) error {
					var err error
					if cfg, err = parseConfig[config.Config](ctx, zap.NewNop()); err != nil {
						return err
					}
					httpCfg, err = parseConfig[standalone.Config](ctx, zap.NewNop())
					return err
				},
			},
		},
	}

	err := testApp.Run([]string{
		"test",
		"--config", configFile,
		"--env-file", envFile,
		"--ssh-password", "pw",
		"--server-path", "/srv/server",
		"serve",
		"--port", "9000",
	})
	require.NoError(t, err)

	assert.Equal(t, "ubuntu@gpu-box", cfg.Remote.Address)
	assert.Equal(t, "pw", cfg.Remote.Password)
	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "/srv/server", cfg.Workers.Server.LocalPath)
	assert.Equal(t, "stop.txt", cfg.Workers.Playback.Sentinel)
	assert.Equal(t, 3*time.Second, cfg.Workers.Client.Grace)
	assert.Equal(t, 5*time.Second, cfg.Workers.Playback.Grace)

	assert.Equal(t, "127.0.0.1", httpCfg.Http.Host)
	assert.Equal(t, 9000, httpCfg.Http.Port)
	assert.False(t, httpCfg.Http.H2c)
}
