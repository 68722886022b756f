package discovery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
	jsv "github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Proxy is a tool of a remote host, calls are forwarded over the session.
type Proxy struct {
	endpoint    string
	name        string
	description string
	params      map[string]any
	// resolved is nil when the host schema cannot be used for validation,
	// the arguments are then checked by the host only.
	resolved *jsv.Resolved
	session  *mcp.ClientSession
}

// ensure Proxy implements the ITool interface
var _ tools.ITool = (*Proxy)(nil)

// NewProxy returns the tool t served by the session.
func NewProxy(endpoint string, session *mcp.ClientSession, t *mcp.Tool) (*Proxy, error) {
	params, err := schema.ToMap(t.InputSchema)
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %s", t.Name)
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	resolved, err := schema.Resolve(params)
	if err != nil {
		logger.KV(xlog.DEBUG,
			"endpoint", endpoint,
			"status", "schema_not_resolved",
			"tool", t.Name,
			"err", err.Error(),
		)
	}
	return &Proxy{
		endpoint:    endpoint,
		name:        t.Name,
		description: t.Description,
		params:      params,
		resolved:    resolved,
		session:     session,
	}, nil
}

func (p *Proxy) Name() string {
	return p.name
}

func (p *Proxy) Description() string {
	return p.description
}

func (p *Proxy) Parameters() any {
	return p.params
}

// Endpoint returns the name of the host serving the tool.
func (p *Proxy) Endpoint() string {
	return p.endpoint
}

// Call checks the arguments against the tool schema and forwards the call to the host.
// A result flagged as error by the host keeps the class reported in its metadata,
// ErrExecution when there is none.
func (p *Proxy) Call(ctx context.Context, args string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" || args == "null" {
		args = "{}"
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", errors.Wrapf(tools.ErrInvalidArguments, "%s: arguments must be a JSON object: %s", p.name, err.Error())
	}
	if p.resolved != nil {
		if err := p.resolved.Validate(in); err != nil {
			return "", errors.Wrapf(tools.ErrInvalidArguments, "%s: invalid input: %s", p.name, err.Error())
		}
	}

	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      p.name,
		Arguments: in,
	})
	if err != nil {
		return "", tools.AsExecutionError(errors.Wrapf(err, "%s on %s", p.name, p.endpoint))
	}

	text, err := ResultText(res)
	if err != nil {
		return "", err
	}
	if res.IsError {
		class, _ := res.Meta[tools.MetaErrorClass].(string)
		return "", tools.Classify(class, errors.Newf("%s on %s: %s", p.name, p.endpoint, text))
	}
	return text, nil
}

// ResultText joins the text contents of the result.
// The structured content is returned when there is no text.
func ResultText(res *mcp.CallToolResult) (string, error) {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		return tools.EncodeResult(res.StructuredContent)
	}
	return strings.Join(parts, "\n"), nil
}
