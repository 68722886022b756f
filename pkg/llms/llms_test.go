package llms_test

import (
	"testing"

	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolDefinitions(t *testing.T) {
	t.Parallel()

	defs, err := llms.ToolDefinitions(demo.Tools()...)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "roll_dice", defs[0].Name)
	assert.Equal(t, "add", defs[1].Name)
	assert.Equal(t, "object", defs[1].Parameters["type"])

	defs, err = llms.ToolDefinitions()
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestCallOptions(t *testing.T) {
	t.Parallel()

	o := llms.NewCallOptions(
		llms.WithModel("gpt-4o-mini"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.2),
		llms.WithStopWords([]string{"STOP"}),
		llms.WithTopP(0.9),
		llms.WithSeed(42),
		llms.WithToolChoice("auto"),
		llms.WithMetadata(map[string]string{"k": "v"}),
	)
	assert.Equal(t, &llms.CallOptions{
		Model:       "gpt-4o-mini",
		MaxTokens:   100,
		Temperature: 0.2,
		StopWords:   []string{"STOP"},
		TopP:        0.9,
		Seed:        42,
		ToolChoice:  "auto",
		Metadata:    map[string]string{"k": "v"},
	}, o)
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityFunctionCalling))
	assert.True(t, llms.ProviderAnthropic.Supports(llms.CapabilityMultiToolCalling))
	assert.False(t, llms.ProviderType("OTHER").Supports(llms.CapabilityText))
}
