package llmfactory

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llms/anthropic"
	"github.com/effective-security/toolchat/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "llmfactory")

// Provider API types accepted in open_ai.api_type.
const (
	APITypeOpenAI    = "OPENAI"
	APITypeAnthropic = "ANTHROPIC"
)

// NewLLM builds the chat model of a provider.
// Tests replace it to avoid network clients.
var NewLLM = CreateLLM

// Factory resolves the chat model used by a session.
type Factory interface {
	// DefaultModel returns the default model of the default provider.
	DefaultModel() (llms.Model, error)
	// ModelByType returns the model of the first provider with the API type,
	// OPENAI or ANTHROPIC.
	ModelByType(apiType string) (llms.Model, error)
	// ModelByName returns the model of the first provider that lists one of the names.
	// DefaultModel is returned when no provider lists any of them.
	ModelByName(names ...string) (llms.Model, error)
}

// Load returns the factory for the LLM config file.
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	providers []*ProviderConfig
	fallback  *ProviderConfig

	lock   sync.Mutex
	byType map[string]llms.Model
	byName map[string]llms.Model
}

// New returns the factory of the providers in cfg.
// The default provider is the one named by default_provider, or the first one.
func New(cfg *Config) Factory {
	f := &factory{
		providers: cfg.Providers,
		byType:    map[string]llms.Model{},
		byName:    map[string]llms.Model{},
	}
	idx := slices.IndexFunc(cfg.Providers, func(p *ProviderConfig) bool {
		return cfg.DefaultProvider != "" && p.Name == cfg.DefaultProvider
	})
	switch {
	case idx >= 0:
		f.fallback = cfg.Providers[idx]
	case len(cfg.Providers) > 0:
		f.fallback = cfg.Providers[0]
	}
	return f
}

// apiType returns the normalized API type of the provider.
func apiType(cfg *ProviderConfig) string {
	switch t := strings.ToUpper(cfg.OpenAI.APIType); t {
	case "", "OPEN_AI":
		return APITypeOpenAI
	default:
		return t
	}
}

// CreateLLM returns the chat model of the provider,
// using the first of preferredModels the provider lists.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	model := cfg.FindModel(preferredModels...)
	switch t := apiType(cfg); t {
	case APITypeOpenAI:
		var opts []openai.Option
		// empty values keep the OPENAI_* environment defaults
		if model != "" {
			opts = append(opts, openai.WithModel(model))
		}
		if cfg.Token != "" {
			opts = append(opts, openai.WithToken(cfg.Token))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.OrgID != "" {
			opts = append(opts, openai.WithOrganization(cfg.OpenAI.OrgID))
		}
		return openai.New(opts...)
	case APITypeAnthropic:
		opts := []anthropic.Option{
			anthropic.WithModel(model),
			anthropic.WithBaseURL(cfg.OpenAI.BaseURL),
		}
		if cfg.Token != "" {
			opts = append(opts, anthropic.WithToken(cfg.Token))
		}
		return anthropic.New(opts...)
	default:
		return nil, errors.Errorf("unsupported provider type: %s", t)
	}
}

func (f *factory) DefaultModel() (llms.Model, error) {
	if f.fallback == nil {
		return nil, errors.New("no providers configured")
	}
	return NewLLM(f.fallback, f.fallback.DefaultModel)
}

func (f *factory) ModelByType(typ string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	typ = strings.ToUpper(typ)
	if m, ok := f.byType[typ]; ok {
		return m, nil
	}
	idx := slices.IndexFunc(f.providers, func(p *ProviderConfig) bool {
		return apiType(p) == typ
	})
	if idx < 0 {
		return nil, errors.Errorf("provider not found for type: %s", typ)
	}
	m, err := f.build(f.providers[idx])
	if err != nil {
		return nil, err
	}
	f.byType[typ] = m
	return m, nil
}

func (f *factory) ModelByName(names ...string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, name := range names {
		if m, ok := f.byName[name]; ok {
			return m, nil
		}
		for _, p := range f.providers {
			if !slices.Contains(p.AvailableModels, name) {
				continue
			}
			m, err := f.build(p, names...)
			if err != nil {
				logger.KV(xlog.WARNING,
					"reason", "model_unavailable",
					"provider", p.Name,
					"model", name,
					"err", err.Error(),
				)
				continue
			}
			f.byName[name] = m
			return m, nil
		}
	}
	return f.DefaultModel()
}

func (f *factory) build(p *ProviderConfig, preferred ...string) (llms.Model, error) {
	m, err := NewLLM(p, preferred...)
	if err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG,
		"status", "model_ready",
		"provider", p.Name,
		"api_type", apiType(p),
		"model", m.GetName(),
	)
	return m, nil
}
