package llmfactory_test

import (
	"context"
	"testing"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llmfactory"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llms/anthropic"
	"github.com/effective-security/toolchat/pkg/llms/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Factory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "fakekey", cfg.Providers[1].Token)

	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	defer func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	}()

	f := llmfactory.New(cfg)
	model, err := f.DefaultModel()
	require.NoError(t, err)
	fm := model.(*fakeLLM)
	assert.Equal(t, "qwen3-8b", fm.model)
	assert.Equal(t, "LMSTUDIO", fm.provider)

	model, err = f.ModelByName("gpt-4.1-mini")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "gpt-4.1-mini", fm.model)
	assert.Equal(t, "OPENAI", fm.provider)

	// cached by name
	again, err := f.ModelByName("gpt-4.1-mini")
	require.NoError(t, err)
	assert.Same(t, model, again)

	model, err = f.ModelByName("unknown", "llama-3.2-3b-instruct")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "llama-3.2-3b-instruct", fm.model)
	assert.Equal(t, "LMSTUDIO", fm.provider)

	// falls back to the default
	model, err = f.ModelByName("non-existent-model")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "qwen3-8b", fm.model)

	model, err = f.ModelByType("ANTHROPIC")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "claude-sonnet-4-20250514", fm.model)
	assert.Equal(t, "ANTHROPIC", fm.provider)

	// type lookup is case insensitive and cached
	model, err = f.ModelByType("openai")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "LMSTUDIO", fm.provider)
	again, err = f.ModelByType("OPENAI")
	require.NoError(t, err)
	assert.Same(t, model, again)

	_, err = f.ModelByType("UNSUPPORTED")
	assert.EqualError(t, err, "provider not found for type: UNSUPPORTED")

	_, err = llmfactory.New(&llmfactory.Config{}).DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	// unknown default provider uses the first one
	model, err = llmfactory.New(&llmfactory.Config{
		DefaultProvider: "non-existent",
		Providers:       cfg.Providers[1:],
	}).DefaultModel()
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "gpt-4o", fm.model)
	assert.Equal(t, "OPENAI", fm.provider)
}

func Test_Load(t *testing.T) {
	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)

	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func Test_CreateLLM(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	m, err := llmfactory.CreateLLM(&llmfactory.ProviderConfig{
		Name:         "local",
		DefaultModel: "qwen3-8b",
		OpenAI:       llmfactory.OpenAIConfig{BaseURL: "http://localhost:1234/v1"},
	})
	require.NoError(t, err)
	assert.IsType(t, &openai.LLM{}, m)
	assert.Equal(t, "qwen3-8b", m.GetName())

	m, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{
		Name:            "claude",
		Token:           "fakekey",
		DefaultModel:    "claude-a",
		AvailableModels: []string{"claude-a", "claude-b"},
		OpenAI:          llmfactory.OpenAIConfig{APIType: "anthropic"},
	}, "claude-b")
	require.NoError(t, err)
	assert.IsType(t, &anthropic.LLM{}, m)
	assert.Equal(t, "claude-b", m.GetName())

	_, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{
		DefaultModel: "gpt-4o",
		OpenAI:       llmfactory.OpenAIConfig{APIType: "OPENAI"},
	})
	assert.ErrorIs(t, err, openai.ErrMissingToken)

	_, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{OpenAI: llmfactory.OpenAIConfig{APIType: "BEDROCK"}})
	assert.EqualError(t, err, "unsupported provider type: BEDROCK")
}

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(f.provider)
}

func (f *fakeLLM) GetName() string {
	return f.model
}

func (f *fakeLLM) GenerateContent(context.Context, []chatmodel.Message, []llms.ToolDefinition, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}
