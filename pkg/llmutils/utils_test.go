package llmutils_test

import (
	"testing"

	"github.com/effective-security/toolchat/pkg/llmutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CleanJSON(t *testing.T) {
	llmOutput := "\n```json\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"
	clean := llmutils.CleanJSON([]byte(llmOutput))

	expected := "{\"city\": \"Paris\", \"country\": \"France\"}"
	assert.Equal(t, expected, string(clean))

	llmOutput = "Here you go:\n```json\n\n[{\"city\": \"Paris\", \"country\": \"France\"}]\n```\n\n"
	clean = llmutils.CleanJSON([]byte(llmOutput))

	expected = "[{\"city\": \"Paris\", \"country\": \"France\"}]"
	assert.Equal(t, expected, string(clean))

	assert.Equal(t, "no json", string(llmutils.CleanJSON([]byte("no json"))))
}

func Test_TrimBackticks(t *testing.T) {
	expected := "{\"city\": \"Paris\", \"country\": \"France\"}"

	assert.Equal(t, expected, llmutils.TrimBackticks("\n```json\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
	// the same
	assert.Equal(t, expected, llmutils.TrimBackticks(expected))
	assert.Equal(t, expected, llmutils.TrimBackticks("\n```\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
	assert.Equal(t, expected, llmutils.TrimBackticks("\n```{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
}

func Test_UnmarshalLenient(t *testing.T) {
	var obj struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	err := llmutils.UnmarshalLenient([]byte("Sure:\n```json\n{\"a\": 2, \"b\": 3}\n```"), &obj)
	require.NoError(t, err)
	assert.Equal(t, 2, obj.A)
	assert.Equal(t, 3, obj.B)
}

func Test_NormalizeArguments(t *testing.T) {
	tcases := []struct {
		in  string
		exp string
	}{
		{in: "", exp: "{}"},
		{in: "  ", exp: "{}"},
		{in: "null", exp: "{}"},
		{in: `{"a":2, "b":3}`, exp: `{"a":2, "b":3}`},
		{in: "```json\n{\"b\":3,\"a\":2}\n```", exp: `{"a":2,"b":3}`},
		{in: `Arguments: {"n_dice": 3}.`, exp: `{"n_dice":3}`},
		{in: `not json at all`, exp: `not json at all`},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.exp, llmutils.NormalizeArguments(tc.in), tc.in)
	}
}

func Test_EnsureNewline(t *testing.T) {
	assert.Equal(t, "", llmutils.EnsureEndsWithNewline("  "))
	assert.Equal(t, "answer\n", llmutils.EnsureEndsWithNewline("answer"))
	assert.Equal(t, "answer\n", llmutils.EnsureEndsWithNewline(" answer \n\n"))
}
