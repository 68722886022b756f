// Package host exposes registered tools over the Model Context Protocol.
//
// A Host keeps tools in registration order and serves them with the
// official MCP Go SDK over stdio or streamable HTTP. The same tools can be
// invoked in process with Invoke.
package host

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "host")

// DefaultCallTimeout is the default bound of a single tool invocation.
const DefaultCallTimeout = 30 * time.Second

// Option is a function that can be used to modify the Host.
type Option func(*Host)

// WithCallTimeout sets the bound of a single tool invocation.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.callTimeout = d
		}
	}
}

// WithCallback sets the callback notified on tool execution.
func WithCallback(cb tools.Callback) Option {
	return func(h *Host) {
		h.callback = cb
	}
}

// Host is a named collection of tools served over MCP.
type Host struct {
	name        string
	version     string
	callTimeout time.Duration
	callback    tools.Callback

	lock   sync.RWMutex
	tools  *orderedmap.OrderedMap[string, tools.ITool]
	server *mcp.Server
}

// New returns an empty Host.
func New(name, version string, opts ...Option) *Host {
	h := &Host{
		name:        name,
		version:     version,
		callTimeout: DefaultCallTimeout,
		tools:       orderedmap.New[string, tools.ITool](),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.server = mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	return h
}

// Name returns the host name.
func (h *Host) Name() string {
	return h.name
}

// Register adds tools to the host.
// Nothing is registered if any name is empty, duplicated,
// or the tool parameters are not a JSON object schema.
func (h *Host) Register(list ...tools.ITool) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	schemas := make([]map[string]any, len(list))
	seen := map[string]bool{}
	for i, t := range list {
		name := t.Name()
		if name == "" {
			return errors.New("tool name is required")
		}
		if seen[name] {
			return errors.Newf("tool %s: duplicate name", name)
		}
		if _, exists := h.tools.Get(name); exists {
			return errors.Newf("tool %s: already registered", name)
		}
		seen[name] = true

		params, err := inputSchema(t)
		if err != nil {
			return err
		}
		schemas[i] = params
	}

	for i, t := range list {
		h.tools.Set(t.Name(), t)
		h.server.AddTool(&mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schemas[i],
		}, h.handler(t.Name()))

		logger.KV(xlog.DEBUG,
			"host", h.name,
			"status", "registered",
			"tool", t.Name(),
		)
	}
	return nil
}

func inputSchema(t tools.ITool) (map[string]any, error) {
	params, err := schema.ToMap(t.Parameters())
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %s", t.Name())
	}
	if typ, ok := params["type"]; !ok {
		params["type"] = "object"
	} else if typ != "object" {
		return nil, errors.Newf("tool %s: input schema must have type object", t.Name())
	}
	return params, nil
}

// ListTools returns the descriptors in registration order.
func (h *Host) ListTools() []tools.Descriptor {
	h.lock.RLock()
	defer h.lock.RUnlock()

	list := make([]tools.Descriptor, 0, h.tools.Len())
	for pair := h.tools.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, tools.Describe(pair.Value))
	}
	return list
}

// Tools returns the registered tools in registration order.
func (h *Host) Tools() []tools.ITool {
	h.lock.RLock()
	defer h.lock.RUnlock()

	list := make([]tools.ITool, 0, h.tools.Len())
	for pair := h.tools.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	return list
}

// Names returns the tool names in registration order.
func (h *Host) Names() []string {
	return tools.Names(h.Tools()...)
}

// Invoke calls the tool with JSON arguments.
// The call is bounded by the host call timeout, expiry is ErrExecution.
func (h *Host) Invoke(ctx context.Context, name, args string) (string, error) {
	h.lock.RLock()
	tool, ok := h.tools.Get(name)
	h.lock.RUnlock()

	if !ok {
		metricskey.StatsHostCallsFailed.IncrCounter(1, h.name, name)
		logger.ContextKV(ctx, xlog.WARNING,
			"host", h.name,
			"status", "tool_not_found",
			"tool", name,
		)
		return "", tools.NotFound(name, h.Names())
	}

	if h.callback != nil {
		h.callback.OnToolStart(ctx, tool, args)
	}

	res, err := CallWithTimeout(ctx, tool, args, h.callTimeout)
	if err != nil {
		metricskey.StatsHostCallsFailed.IncrCounter(1, h.name, name)
		logger.ContextKV(ctx, xlog.WARNING,
			"host", h.name,
			"status", "tool_failed",
			"tool", name,
			"args", slices.StringUpto(args, 64),
			"err", err.Error(),
		)
		if h.callback != nil {
			h.callback.OnToolError(ctx, tool, args, err)
		}
		return "", err
	}

	metricskey.StatsHostCallsSucceeded.IncrCounter(1, h.name, name)
	if h.callback != nil {
		h.callback.OnToolEnd(ctx, tool, args, res)
	}
	return res, nil
}

// CallWithTimeout calls the tool and returns when it completes or when the
// timeout expires, whichever comes first.
// A tool that ignores its context keeps running in the background,
// its result is discarded.
func CallWithTimeout(ctx context.Context, tool tools.ITool, args string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		res string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: tools.AsExecutionError(errors.Newf("tool %s panicked: %v", tool.Name(), r))}
			}
		}()
		res, err := tool.Call(ctx, args)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, tools.AsExecutionError(r.err)
	case <-ctx.Done():
		return "", tools.AsExecutionError(errors.Wrapf(ctx.Err(), "tool %s", tool.Name()))
	}
}

func (h *Host) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args string
		if req != nil && req.Params != nil {
			args = string(req.Params.Arguments)
		}
		res, err := h.Invoke(ctx, name, args)
		if err != nil {
			return ErrorResult(err), nil
		}
		return TextResult(res), nil
	}
}

// TextResult returns a successful MCP tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// ErrorResult returns a failed MCP tool result with the error text.
// The error class is set in the result metadata.
func ErrorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Meta:    mcp.Meta{tools.MetaErrorClass: tools.ErrorClass(err)},
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// MCPServer returns the MCP server exposing the registered tools.
func (h *Host) MCPServer() *mcp.Server {
	return h.server
}

// ServeStdio serves the tools on stdin/stdout until the client disconnects
// or ctx is done.
func (h *Host) ServeStdio(ctx context.Context) error {
	logger.KV(xlog.INFO,
		"host", h.name,
		"status", "serving",
		"transport", "stdio",
		"tools", h.Names(),
	)
	err := h.server.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "stdio server failed")
	}
	return nil
}

// HTTPHandler returns the streamable HTTP handler serving the tools.
func (h *Host) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return h.server
	}, nil)
}
