package chatmodel

import (
	"fmt"
	"strings"
)

// Role is the author of a transcript message.
type Role string

const (
	// RoleSystem is the system instruction.
	RoleSystem Role = "system"
	// RoleHuman is a message sent by the user.
	RoleHuman Role = "human"
	// RoleAI is a message produced by the model.
	RoleAI Role = "ai"
	// RoleTool is a result of a tool call.
	RoleTool Role = "tool"
)

// ToolCall is a call to a tool requested by the model.
type ToolCall struct {
	// ID is the correlation id, the matching Tool message carries the same value.
	ID string `json:"id" yaml:"id"`
	// Name is the tool name.
	Name string `json:"name" yaml:"name"`
	// Arguments is the JSON object with the call arguments.
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name, tc.Arguments)
}

// Message is one entry of a Transcript.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	// ToolCalls is set on AI messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	// ToolCallID is set on Tool messages to the id of the answered call.
	ToolCallID string `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	// Name is the tool name on Tool messages.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// IsError is set on Tool messages when the call failed.
	IsError bool `json:"is_error,omitempty" yaml:"is_error,omitempty"`
}

// SystemMessage returns a system instruction.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// HumanMessage returns a user message.
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AIMessage returns a model message with text only.
func AIMessage(content string) Message {
	return Message{Role: RoleAI, Content: content}
}

// AIToolCallsMessage returns a model message requesting tool calls.
func AIToolCallsMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: content, ToolCalls: calls}
}

// ToolMessage returns a successful result for the call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// ToolErrorMessage returns a failed result for the call.
func ToolErrorMessage(call ToolCall, err error) Message {
	return Message{
		Role:       RoleTool,
		Content:    fmt.Sprintf("Tool call failed: %s", err.Error()),
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    true,
	}
}

// HasToolCalls returns true if the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAI && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteString(": ")
	b.WriteString(m.Content)
	for _, tc := range m.ToolCalls {
		b.WriteString("\n  ")
		b.WriteString(tc.String())
	}
	return b.String()
}
