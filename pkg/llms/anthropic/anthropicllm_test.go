package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, reply string, captured *map[string]any) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Api-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if captured != nil {
			require.NoError(t, json.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newLLM(t *testing.T, url string) *anthropic.LLM {
	llm, err := anthropic.New(
		anthropic.WithToken("test-token"),
		anthropic.WithModel("claude-test"),
		anthropic.WithBaseURL(url),
	)
	require.NoError(t, err)
	return llm
}

func TestNew(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "")

	_, err := anthropic.New(anthropic.WithModel("m"))
	assert.ErrorIs(t, err, anthropic.ErrMissingToken)

	_, err = anthropic.New(anthropic.WithToken("x"))
	assert.EqualError(t, err, "anthropic: model is required")

	llm, err := anthropic.New(anthropic.WithToken("x"), anthropic.WithModel("claude-test"))
	require.NoError(t, err)
	assert.Equal(t, "claude-test", llm.GetName())
	assert.Equal(t, llms.ProviderAnthropic, llm.GetProviderType())
}

func TestGenerateContent_ToolUse(t *testing.T) {
	reply := `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [
			{"type": "text", "text": "Let me add."},
			{"type": "tool_use", "id": "toolu_1", "name": "add", "input": {"a": 2, "b": 3}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`
	var req map[string]any
	srv := newServer(t, reply, &req)
	llm := newLLM(t, srv.URL)

	call := chatmodel.ToolCall{ID: "toolu_0", Name: "roll_dice", Arguments: `{"n_dice":1}`}
	messages := []chatmodel.Message{
		chatmodel.SystemMessage("be brief"),
		chatmodel.HumanMessage("roll then add"),
		chatmodel.AIToolCallsMessage("", call),
		chatmodel.ToolMessage(call, "[4]"),
	}
	defs := []llms.ToolDefinition{{
		Name:        "add",
		Description: "Add two numbers",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"a": map[string]any{"type": "integer"}, "b": map[string]any{"type": "integer"}},
			"required":   []any{"a", "b"},
		},
	}}

	resp, err := llm.GenerateContent(context.Background(), messages, defs, llms.WithMaxTokens(100))
	require.NoError(t, err)
	assert.Equal(t, chatmodel.RoleAI, resp.Message.Role)
	assert.Equal(t, "Let me add.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "add", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":2,"b":3}`, resp.Message.ToolCalls[0].Arguments)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, llms.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)

	assert.Equal(t, "claude-test", req["model"])
	assert.EqualValues(t, 100, req["max_tokens"])
	system := req["system"].([]any)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	result := msgs[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "toolu_0", result["tool_use_id"])
	tools := req["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].(map[string]any)["name"])
}

func TestGenerateContent_Text(t *testing.T) {
	reply := `{
		"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [{"type": "text", "text": "Hello"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 3, "output_tokens": 1}
	}`
	var req map[string]any
	srv := newServer(t, reply, &req)
	llm := newLLM(t, srv.URL)

	resp, err := llm.GenerateContent(context.Background(), []chatmodel.Message{chatmodel.HumanMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Message.Content)
	assert.False(t, resp.Message.HasToolCalls())
	assert.EqualValues(t, anthropic.DefaultMaxTokens, req["max_tokens"])
	_, hasTools := req["tools"]
	assert.False(t, hasTools)
}

func TestGenerateContent_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	llm := newLLM(t, srv.URL)
	_, err := llm.GenerateContent(context.Background(), []chatmodel.Message{chatmodel.HumanMessage("hi")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: failed to create message")
}

func TestProcessMessages(t *testing.T) {
	a := chatmodel.ToolCall{ID: "1", Name: "add", Arguments: `{"a":1,"b":2}`}
	b := chatmodel.ToolCall{ID: "2", Name: "add", Arguments: ``}

	msgs, system, err := anthropic.ProcessMessages([]chatmodel.Message{
		chatmodel.SystemMessage("one"),
		chatmodel.SystemMessage("two"),
		chatmodel.HumanMessage("q"),
		chatmodel.AIToolCallsMessage("", a, b),
		chatmodel.ToolMessage(a, "3"),
		chatmodel.ToolErrorMessage(b, assert.AnError),
		chatmodel.AIMessage("done"),
	})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", system)
	// tool results are grouped in one user message
	require.Len(t, msgs, 4)
	require.Len(t, msgs[2].Content, 2)

	_, _, err = anthropic.ProcessMessages([]chatmodel.Message{
		chatmodel.AIToolCallsMessage("", chatmodel.ToolCall{ID: "x", Name: "add", Arguments: "{bad"}),
	})
	assert.EqualError(t, err, "anthropic: invalid arguments of tool call x")

	_, _, err = anthropic.ProcessMessages([]chatmodel.Message{{Role: "robot"}})
	assert.ErrorIs(t, err, anthropic.ErrUnsupportedMessageType)
}
