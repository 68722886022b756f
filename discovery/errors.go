package discovery

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicateTool is returned with the RejectDuplicates policy
	// when two sources expose the same tool name.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrConnection matches endpoint failures that happened while connecting
	// to the host or listing its tools.
	ErrConnection = errors.New("connection error")
)

// Stage of the discovery an endpoint failed at.
const (
	StageValidate = "validate"
	StageConnect  = "connect"
	StageList     = "list"
)

// EndpointError is an endpoint that contributed no tools.
type EndpointError struct {
	Endpoint string
	Stage    string
	Err      error
}

func (e *EndpointError) Error() string {
	return "endpoint " + e.Endpoint + ": " + e.Stage + ": " + e.Err.Error()
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// Is reports connect and list failures as ErrConnection.
func (e *EndpointError) Is(target error) bool {
	return target == ErrConnection && e.Stage != StageValidate
}
