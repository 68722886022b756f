// Package openai adapts the OpenAI chat completions API, and any server
// compatible with it, to the llms.Model interface.
package openai

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

var (
	ErrMissingToken           = errors.New("openai: missing API key, set it in the OPENAI_API_KEY environment variable")
	ErrMissingModel           = errors.New("openai: missing model, set it in the OPENAI_MODEL environment variable")
	ErrUnsupportedMessageType = errors.New("openai: unsupported message type")
)

// localToken is sent to a custom base URL when no token is configured,
// local servers accept any value.
const localToken = "local" //nolint:gosec

type LLM struct {
	client *openai.Client
	model  string
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	options := &options{
		token:        os.Getenv(tokenEnvVarName),
		model:        os.Getenv(modelEnvVarName),
		baseURL:      values.StringsCoalesce(os.Getenv(baseURLEnvVarName), os.Getenv(baseAPIBaseEnvVarName)),
		organization: os.Getenv(organizationEnvVarName),
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.token == "" {
		if options.baseURL == "" {
			return nil, ErrMissingToken
		}
		options.token = localToken
	}
	if options.model == "" {
		return nil, ErrMissingModel
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.token),
		option.WithMaxRetries(options.maxRetries),
	}
	if options.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.baseURL))
	}
	if options.organization != "" {
		sdkOpts = append(sdkOpts, option.WithOrganization(options.organization))
	}
	if options.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.httpClient))
	}

	client := openai.NewClient(sdkOpts...)
	return &LLM{
		client: &client,
		model:  options.model,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []chatmodel.Message, tools []llms.ToolDefinition, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(append([]llms.CallOption{llms.WithModel(o.model)}, options...)...)

	chatMessages, err := ToMessages(messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: chatMessages,
		Tools:    ToTools(tools),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.Seed != 0 {
		params.Seed = openai.Int(int64(opts.Seed))
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if len(tools) > 0 && opts.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(opts.ToolChoice)}
	}
	if len(opts.Metadata) > 0 {
		params.Metadata = shared.Metadata(opts.Metadata)
	}

	result, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai: failed to create chat completion")
	}
	if len(result.Choices) == 0 {
		return nil, errors.WithMessage(llms.ErrEmptyResponse, "openai: no choices")
	}

	choice := result.Choices[0]
	var calls []chatmodel.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		calls = append(calls, chatmodel.ToolCall{
			// some compatible servers omit call ids
			ID:        values.StringsCoalesce(tc.ID, "call_"+uuid.NewString()),
			Name:      tc.Function.Name,
			Arguments: values.StringsCoalesce(strings.TrimSpace(tc.Function.Arguments), "{}"),
		})
	}

	return &llms.ContentResponse{
		Message:    chatmodel.AIToolCallsMessage(choice.Message.Content, calls...),
		StopReason: choice.FinishReason,
		Usage: llms.Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
			TotalTokens:  result.Usage.TotalTokens,
		},
	}, nil
}

// ToTools converts tool definitions to function tools.
// Returns nil if no tools are provided.
func ToTools(tools []llms.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	list := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, t := range tools {
		def := shared.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: shared.FunctionParameters(t.Parameters),
		}
		if t.Description != "" {
			def.Description = openai.String(t.Description)
		}
		list[i] = openai.ChatCompletionFunctionTool(def)
	}
	return list
}

// ToMessages converts the transcript to chat completion messages.
func ToMessages(messages []chatmodel.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	list := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chatmodel.RoleSystem:
			list = append(list, openai.SystemMessage(msg.Content))
		case chatmodel.RoleHuman:
			list = append(list, openai.UserMessage(msg.Content))
		case chatmodel.RoleAI:
			if !msg.HasToolCalls() {
				list = append(list, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: values.StringsCoalesce(tc.Arguments, "{}"),
						},
					},
				})
			}
			list = append(list, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case chatmodel.RoleTool:
			list = append(list, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, errors.WithMessagef(ErrUnsupportedMessageType, "%q", msg.Role)
		}
	}
	return list, nil
}
