package handler

import (
	"errors"
	"net/http"

	"github.com/kinegraphx/orchestrator/handler/schema"
	"github.com/kinegraphx/orchestrator/internal/registry"
	"github.com/kinegraphx/orchestrator/internal/remote"
)

var errReadBody = errors.New("failed to read body")

// wellKnownErrors are matched in order with errors.Is.
var wellKnownErrors = []struct {
	err    error
	status int
}{
	{registry.ErrNotFound, http.StatusNotFound},
	{registry.ErrAlreadyRunning, http.StatusConflict},
	{registry.ErrNotRunning, http.StatusConflict},
	{remote.ErrConnection, http.StatusBadGateway},
	{schema.ErrInvalidRequest, http.StatusBadRequest},
	{errReadBody, http.StatusBadRequest},
}

// getErrorStatusCode returns the status code for the given error.
func getErrorStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	for _, known := range wellKnownErrors {
		if errors.Is(err, known.err) {
			return known.status
		}
	}

	return http.StatusInternalServerError
}

type response struct {
	State        registry.State `json:"state,omitempty"`
	Status       string         `json:"status"`
	MessageStack []string       `json:"message_stack"`
	Error        string         `json:"error,omitempty"`
}

func newResponse(status registry.Status, err error) response {
	res := response{
		State:        status.State,
		Status:       status.Status,
		MessageStack: status.MessageStack,
	}

	if res.MessageStack == nil {
		res.MessageStack = []string{}
	}

	if err != nil {
		res.Error = err.Error()
		if res.Status == "" {
			res.Status = "ERROR"
		}
	}

	return res
}
