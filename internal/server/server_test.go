package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHttpConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:51312", HttpConfig{Host: "127.0.0.1", Port: 51312}.Addr())
	assert.Equal(t, "[::1]:80", HttpConfig{Host: "::1", Port: 80}.Addr())
}

func TestHttpServer_ServesRoutes(t *testing.T) {
	ping := AsHttpHandler("GET /ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	server := NewHttpServer(HttpServerParams{
		Config:   HttpConfig{Host: "127.0.0.1", Port: 0},
		Handlers: []*HttpHandler{ping.Handler},
		Logger:   zap.NewNop(),
	})

	listener, err := server.Listen(context.Background())
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	url := "http://" + listener.Addr().String()

	res, err := http.Get(url + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "pong", string(body))

	res, err = http.Post(url+"/ping", "text/plain", nil)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	require.NoError(t, server.Shutdown(context.Background()))
	assert.NoError(t, <-served)
}

func TestHttpServer_ListenFails(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	port := taken.Addr().(*net.TCPAddr).Port

	server := NewHttpServer(HttpServerParams{
		Config: HttpConfig{Host: "127.0.0.1", Port: port},
		Logger: zap.NewNop(),
	})

	_, err = server.Listen(context.Background())
	assert.Error(t, err)
}
