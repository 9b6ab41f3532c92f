package server

import (
	"net"
	"strconv"
	"time"
)

const readHeaderTimeout = 10 * time.Second

type HttpConfig struct {
	Host string `conf:"host"`
	Port int    `conf:"port"`
	H2c  bool   `conf:"h2c"`
}

// Addr returns the listen address. Port 0 picks a free port.
func (c HttpConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
