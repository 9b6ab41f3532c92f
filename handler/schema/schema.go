package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidRequest = errors.New("invalid request")

// ValidationError lists the violations of a request body.
type ValidationError struct {
	Result *gojsonschema.Result
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Result.Errors()))
	for _, desc := range e.Result.Errors() {
		messages = append(messages, desc.String())
	}

	return "invalid request: " + strings.Join(messages, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

type Schema struct {
	schema *gojsonschema.Schema
}

// Validate validates a raw JSON document. Malformed JSON is reported as
// ErrInvalidRequest as well.
func (s *Schema) Validate(data []byte) error {
	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}

	if !res.Valid() {
		return &ValidationError{Result: res}
	}

	return nil
}

//go:embed worker-request.json
var workerRequest json.RawMessage
var workerRequestLoader = gojsonschema.NewBytesLoader(workerRequest)

func NewWorkerRequestSchema() (*Schema, error) {
	schema, err := gojsonschema.NewSchema(workerRequestLoader)
	if err != nil {
		return nil, err
	}

	return &Schema{schema: schema}, nil
}
