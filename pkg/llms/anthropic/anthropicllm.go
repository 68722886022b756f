// Package anthropic adapts the Anthropic Messages API to the llms.Model interface.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
)

var (
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
)

const (
	DefaultMaxTokens = 4096
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, it will attempt to read the API key
// from the ANTHROPIC_API_KEY environment variable. The model is required.
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		HttpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(options.MaxRetries),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}
	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &LLM{
		Client:  &client,
		Options: options,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []chatmodel.Message, tools []llms.ToolDefinition, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(append([]llms.CallOption{llms.WithModel(o.Options.Model)}, options...)...)

	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
		Tools:     ToTools(tools),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}

	var text strings.Builder
	var calls []chatmodel.ToolCall
	for _, block := range result.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			args := strings.TrimSpace(string(content.Input))
			calls = append(calls, chatmodel.ToolCall{
				ID:        values.StringsCoalesce(content.ID, "call_"+uuid.NewString()),
				Name:      content.Name,
				Arguments: values.StringsCoalesce(args, "{}"),
			})
		}
	}
	if text.Len() == 0 && len(calls) == 0 && result.StopReason != anthropic.StopReasonEndTurn {
		return nil, errors.WithMessagef(llms.ErrEmptyResponse, "anthropic: stop reason %s", result.StopReason)
	}

	return &llms.ContentResponse{
		Message:    chatmodel.AIToolCallsMessage(text.String(), calls...),
		StopReason: string(result.StopReason),
		Usage: llms.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}, nil
}

// ToTools converts tool definitions to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(tools []llms.ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: tool.Parameters["properties"],
		}
		if req, ok := tool.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					inputSchema.Required = append(inputSchema.Required, s)
				}
			}
		} else if req, ok := tool.Parameters["required"].([]string); ok {
			inputSchema.Required = req
		}

		sdkTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: inputSchema,
			},
		}
	}
	return sdkTools
}

// ProcessMessages converts the transcript to Anthropic SDK message parameters.
// System messages are returned as the system prompt, consecutive Tool messages
// are grouped into one user message of tool results.
func ProcessMessages(messages []chatmodel.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			chatMessages = append(chatMessages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Role != chatmodel.RoleTool {
			flush()
		}
		switch msg.Role {
		case chatmodel.RoleSystem:
			system = append(system, msg.Content)
		case chatmodel.RoleHuman:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case chatmodel.RoleAI:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(values.StringsCoalesce(strings.TrimSpace(tc.Arguments), "{}"))
				if !json.Valid(input) {
					return nil, "", errors.Newf("anthropic: invalid arguments of tool call %s", tc.ID)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(blocks...))
		case chatmodel.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "%q", msg.Role)
		}
	}
	flush()

	return chatMessages, strings.Join(system, "\n"), nil
}
