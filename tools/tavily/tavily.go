// Package tavily provides the web_search tool backed by the Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"reflect"

	"github.com/cockroachdb/errors"
	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat/tools", "tavily")

// ToolName is the name of the tool
const ToolName = "web_search"

// EnvAPIKey is the environment variable with the Tavily API key
const EnvAPIKey = "TAVILY_API_KEY"

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query string `json:"query" yaml:"query" validate:"required" jsonschema:"title=Search Query,description=The query to search web."`
}

// SearchResult represents the structure for a search response
type SearchResult struct {
	Results []tavilyModels.SearchResult `json:"results" yaml:"results"`
	Answer  string                      `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Tool is a tool that provides a web search functionality
type Tool struct {
	name        string
	description string
	funcParams  map[string]any

	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ensure Tool implements the Tool interface
var _ tools.Tool[SearchRequest, *SearchResult] = (*Tool)(nil)

// New returns the tool, it fails if TAVILY_API_KEY is not set.
func New() (*Tool, error) {
	apikey := os.Getenv(EnvAPIKey)
	if apikey == "" {
		return nil, errors.Newf("%s is not set", EnvAPIKey)
	}

	sc, err := schema.New(reflect.TypeFor[SearchRequest]())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create schema")
	}
	tool := &Tool{
		name:        ToolName,
		description: "Search the web for up to date information. Returns an answer and a list of results.",
		funcParams:  sc.Map(),
		apiKey:      apikey,
		httpClient:  http.DefaultClient,
	}
	return tool, nil
}

// Optional returns the tool list with web_search when TAVILY_API_KEY is set,
// or an empty list otherwise.
func Optional() []tools.ITool {
	t, err := New()
	if err != nil {
		logger.KV(xlog.INFO, "status", "web_search_disabled", "reason", err.Error())
		return nil
	}
	return []tools.ITool{t}
}

func (t *Tool) WithBaseURL(baseURL string) *Tool {
	t.baseURL = baseURL
	return t
}

func (t *Tool) WithHTTPClient(client *http.Client) *Tool {
	t.httpClient = client
	return t
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.funcParams
}

func (t *Tool) Run(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if err := tools.Validator().Struct(req); err != nil {
		return nil, errors.Wrapf(tools.ErrInvalidArguments, "%s: empty query", t.name)
	}

	client := tavilygo.NewClient(t.apiKey)
	if t.baseURL != "" {
		client.BaseURL = t.baseURL
	}
	if t.httpClient != nil {
		client.HTTPClient = t.httpClient
	}

	searchReq := tavilyModels.SearchRequest{
		Query:         req.Query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	}

	// the client does not take a context, check it before the call
	if err := ctx.Err(); err != nil {
		return nil, tools.AsExecutionError(errors.WithStack(err))
	}
	searchResp, err := tavilygo.Search(client, searchReq)
	if err != nil {
		return nil, tools.AsExecutionError(errors.Wrap(err, "failed to perform search"))
	}

	return &SearchResult{
		Results: searchResp.Results,
		Answer:  searchResp.Answer,
	}, nil
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	req, err := tools.DecodeArguments[SearchRequest](input)
	if err != nil {
		return "", err
	}
	out, err := t.Run(ctx, req)
	if err != nil {
		return "", err
	}
	return tools.EncodeResult(out)
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	if r.Answer != "" {
		fmt.Fprintf(&buf, "ANSWER: %s\n", r.Answer)
	}

	for _, result := range r.Results {
		fmt.Fprintf(&buf, "- URL: %s\n", result.URL)
		fmt.Fprintf(&buf, "  TITLE: %s\n", result.Title)
		fmt.Fprintf(&buf, "  SCORE: %f\n", result.Score)
		fmt.Fprintf(&buf, "  CONTENT: %s\n", result.Content)
	}

	return buf.String()
}
