package standalone

import "github.com/kinegraphx/orchestrator/internal/server"

type Config struct {
	// Http represents the configuration for the HTTP server.
	Http server.HttpConfig `conf:"http"`
}
