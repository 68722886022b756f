package llms

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/effective-security/toolchat/tools"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llms_mock.gen.go -package mockllms

// ErrEmptyResponse is returned when the provider returns no message.
var ErrEmptyResponse = errors.New("empty response from model")

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the type of provider.
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderOpenAI is the type of provider.
	ProviderOpenAI ProviderType = "OPENAI"
)

// Model is an interface chat models implement.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GetName returns the model name.
	GetName() string
	// GenerateContent asks the model for the next AI message of the transcript.
	// When tools is empty the model is called without tools.
	GenerateContent(ctx context.Context, messages []chatmodel.Message, tools []ToolDefinition, options ...CallOption) (*ContentResponse, error)
}

// ToolDefinition is a function the model may call.
type ToolDefinition struct {
	// Name is the name of the function.
	Name string `json:"name"`
	// Description is a description of the function.
	Description string `json:"description"`
	// Parameters is the JSON schema object of the arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolDefinitions returns the definitions of the tools, in order.
func ToolDefinitions(list ...tools.ITool) ([]ToolDefinition, error) {
	defs := make([]ToolDefinition, 0, len(list))
	for _, t := range list {
		params, err := schema.ToMap(t.Parameters())
		if err != nil {
			return nil, errors.WithMessagef(err, "tool %s", t.Name())
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return defs, nil
}

// Usage is the token usage of a call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ContentResponse is the response returned by a GenerateContent call.
type ContentResponse struct {
	// Message is the AI message, with text and/or tool calls.
	Message chatmodel.Message `json:"message"`
	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason,omitempty"`
	// Usage is the token usage, when reported by the provider.
	Usage Usage `json:"usage"`
}

// Capability is a bitmask indicating supported features of an LLM provider.
type Capability uint64

const (
	// CapabilityText is basic text or chat generation
	CapabilityText Capability = 1 << iota
	// CapabilityFunctionCalling is function/tool calling
	CapabilityFunctionCalling
	// CapabilityMultiToolCalling is several tool calls in one message
	CapabilityMultiToolCalling
	// CapabilitySystemPrompt is system prompt support
	CapabilitySystemPrompt
)

var providerCapabilities = map[ProviderType]Capability{
	ProviderOpenAI: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,

	ProviderAnthropic: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,
}

// ProviderCapabilities returns the capabilities of the provider.
func ProviderCapabilities(pt ProviderType) Capability {
	return providerCapabilities[pt]
}

// Supports returns true if the provider supports the capability.
func (p ProviderType) Supports(c Capability) bool {
	return ProviderCapabilities(p)&c != 0
}
