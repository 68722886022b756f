package discovery

import (
	"net/http"
	"os"
	"os/exec"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport names the way a tool host is reached.
type Transport string

const (
	// TransportStdio starts the host as a child process and talks over its stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportStreamableHTTP connects to a host serving MCP streamable HTTP.
	TransportStreamableHTTP Transport = "streamable_http"
	// TransportSSE connects to a host serving the legacy HTTP+SSE transport.
	TransportSSE Transport = "sse"
)

// Endpoint describes one tool host.
type Endpoint struct {
	Name      string    `json:"name" yaml:"name" validate:"required"`
	Transport Transport `json:"transport" yaml:"transport" validate:"required,oneof=stdio streamable_http sse"`

	// Command and Args start a stdio host.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is added to the environment of the stdio host.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// URL of an HTTP host.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	// Headers are sent with every HTTP request, for example Authorization.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Validate returns an error if the endpoint can not be connected.
func (e *Endpoint) Validate() error {
	if err := tools.Validator().Struct(e); err != nil {
		return errors.WithMessagef(err, "endpoint %q", e.Name)
	}
	switch e.Transport {
	case TransportStdio:
		if e.Command == "" {
			return errors.Newf("endpoint %q: command is required for stdio", e.Name)
		}
	default:
		if e.URL == "" {
			return errors.Newf("endpoint %q: url is required for %s", e.Name, e.Transport)
		}
	}
	return nil
}

func (e *Endpoint) transport() mcp.Transport {
	switch e.Transport {
	case TransportStdio:
		// #nosec G204 -- the command comes from the trusted servers config
		cmd := exec.Command(e.Command, e.Args...)
		if len(e.Env) > 0 {
			cmd.Env = os.Environ()
			keys := make([]string, 0, len(e.Env))
			for k := range e.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Env = append(cmd.Env, k+"="+e.Env[k])
			}
		}
		return &mcp.CommandTransport{Command: cmd}
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: e.URL, HTTPClient: e.httpClient()}
	default:
		return &mcp.StreamableClientTransport{Endpoint: e.URL, HTTPClient: e.httpClient()}
	}
}

func (e *Endpoint) httpClient() *http.Client {
	if len(e.Headers) == 0 {
		return nil
	}
	return &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, headers: e.Headers},
	}
}

// headerTransport sets static headers on every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
