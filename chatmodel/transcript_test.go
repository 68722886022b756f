package chatmodel_test

import (
	"errors"
	"testing"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_AppendDoesNotMutate(t *testing.T) {
	t.Parallel()

	base := make(chatmodel.Transcript, 0, 10)
	base = append(base, chatmodel.SystemMessage("sys"))

	a := base.Append(chatmodel.HumanMessage("a"))
	b := base.Append(chatmodel.HumanMessage("b"))

	require.Len(t, base, 1)
	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.Equal(t, "a", a[1].Content)
	assert.Equal(t, "b", b[1].Content)

	call := chatmodel.ToolCall{ID: "1", Name: "add"}
	c := a.Append(chatmodel.AIToolCallsMessage("", call))
	c[2].ToolCalls[0].Name = "changed"
	d := a.Append(chatmodel.AIToolCallsMessage("", call))
	assert.Equal(t, "add", d[2].ToolCalls[0].Name)
}

func TestTranscript_Pending(t *testing.T) {
	t.Parallel()

	c1 := chatmodel.ToolCall{ID: "c1", Name: "add", Arguments: `{"a":2,"b":3}`}
	c2 := chatmodel.ToolCall{ID: "c2", Name: "roll_dice", Arguments: `{"n_dice":3}`}

	tr := chatmodel.Transcript{
		chatmodel.SystemMessage("sys"),
		chatmodel.HumanMessage("hi"),
	}
	assert.Empty(t, tr.Pending())

	tr = tr.Append(chatmodel.AIToolCallsMessage("", c1, c2))
	assert.Equal(t, []chatmodel.ToolCall{c1, c2}, tr.Pending())

	tr = tr.Append(chatmodel.ToolMessage(c2, "[1,2,3]"))
	assert.Equal(t, []chatmodel.ToolCall{c1}, tr.Pending())
	assert.ErrorIs(t, tr.Validate(), chatmodel.ErrUnresolvedToolCall)

	tr = tr.Append(chatmodel.ToolErrorMessage(c1, errors.New("boom")))
	assert.Empty(t, tr.Pending())
	assert.NoError(t, tr.Validate())

	last, ok := tr.Last()
	require.True(t, ok)
	assert.True(t, last.IsError)
	assert.Equal(t, "Tool call failed: boom", last.Content)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "add", last.Name)
}

func TestTranscript_Validate(t *testing.T) {
	t.Parallel()

	call := chatmodel.ToolCall{ID: "c1", Name: "add"}

	tcases := []struct {
		name string
		tr   chatmodel.Transcript
		exp  error
	}{
		{
			name: "empty",
		},
		{
			name: "text only",
			tr:   chatmodel.Transcript{chatmodel.HumanMessage("q"), chatmodel.AIMessage("a")},
		},
		{
			name: "unexpected result",
			tr:   chatmodel.Transcript{chatmodel.HumanMessage("q"), chatmodel.ToolMessage(call, "5")},
			exp:  chatmodel.ErrUnexpectedToolResult,
		},
		{
			name: "answered twice",
			tr: chatmodel.Transcript{
				chatmodel.AIToolCallsMessage("", call),
				chatmodel.ToolMessage(call, "5"),
				chatmodel.ToolMessage(call, "5"),
			},
			exp: chatmodel.ErrUnexpectedToolResult,
		},
		{
			name: "model called before result",
			tr: chatmodel.Transcript{
				chatmodel.AIToolCallsMessage("", call),
				chatmodel.AIMessage("done"),
			},
			exp: chatmodel.ErrUnresolvedToolCall,
		},
		{
			name: "empty id",
			tr:   chatmodel.Transcript{chatmodel.AIToolCallsMessage("", chatmodel.ToolCall{Name: "add"})},
			exp:  chatmodel.ErrUnresolvedToolCall,
		},
		{
			name: "resolved",
			tr: chatmodel.Transcript{
				chatmodel.AIToolCallsMessage("", call),
				chatmodel.ToolMessage(call, "5"),
				chatmodel.AIMessage("2+3=5"),
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tr.Validate()
			if tc.exp == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.exp)
			}
		})
	}
}

func TestTranscript_Conversation(t *testing.T) {
	t.Parallel()

	call := chatmodel.ToolCall{ID: "c1", Name: "add"}
	tr := chatmodel.Transcript{
		chatmodel.SystemMessage("sys"),
		chatmodel.HumanMessage("2+3?"),
		chatmodel.AIToolCallsMessage("", call),
		chatmodel.ToolMessage(call, "5"),
		chatmodel.AIMessage("5"),
	}
	conv := tr.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, chatmodel.RoleHuman, conv[0].Role)
	assert.Equal(t, chatmodel.RoleAI, conv[1].Role)
	assert.Equal(t, "5", conv[1].Content)
}
