// Package config provides the configuration of the toolchat binaries.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/orchestrator"
	"github.com/effective-security/toolchat/pkg/llmfactory"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

// Config of the chat client.
type Config struct {
	// LLM specifies the model providers.
	LLM llmfactory.Config `json:"llm" yaml:"llm"`
	// LLMFile is a providers file in the llmfactory format, loaded when llm has no providers.
	// A relative path is resolved against the directory of the config file.
	LLMFile string `json:"llm_file,omitempty" yaml:"llm_file,omitempty"`
	// Model is the preferred model name, the default model of the default provider if empty.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Servers maps a server name to its endpoint.
	Servers map[string]*discovery.Endpoint `json:"servers,omitempty" yaml:"servers,omitempty"`
	// Checkpoint configures where threads are stored.
	Checkpoint checkpoint.Config `json:"checkpoint" yaml:"checkpoint"`
	// Orchestrator configures the turn loop.
	Orchestrator Orchestrator `json:"orchestrator" yaml:"orchestrator"`
	// Logs configures logging.
	Logs Logs `json:"logs" yaml:"logs"`
}

// Orchestrator configures the turn loop.
type Orchestrator struct {
	// SystemPrompt seeds new threads. Set it to "-" to start threads without a system message.
	SystemPrompt  string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// MaxParallelTools limits concurrent tool calls of one step, 0 for no limit.
	MaxParallelTools int      `json:"max_parallel_tools,omitempty" yaml:"max_parallel_tools,omitempty"`
	ModelTimeout     Duration `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"`
	ToolTimeout      Duration `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	ConnectTimeout   Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	// DuplicatePolicy is first_wins|reject.
	DuplicatePolicy string `json:"duplicate_policy,omitempty" yaml:"duplicate_policy,omitempty"`
	// CheckpointEverySteps saves the thread after each Acting step, not only at the end of the turn.
	CheckpointEverySteps bool `json:"checkpoint_every_steps,omitempty" yaml:"checkpoint_every_steps,omitempty"`

	// MaxTokens and Temperature are passed to every model call when set.
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// Logs configures logging.
type Logs struct {
	// Level is ERROR|WARNING|NOTICE|INFO|DEBUG|TRACE.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is text|json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Duration is a time.Duration decoded from strings like "30s".
type Duration time.Duration

// Duration returns the value as time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.WithStack(err)
	}
	return d.set(v)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return errors.WithStack(err)
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case nil:
		*d = 0
	case string:
		if val == "" {
			*d = 0
			return nil
		}
		dur, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", val)
		}
		*d = Duration(dur)
	case float64:
		*d = Duration(val)
	case int:
		*d = Duration(val)
	case int64:
		*d = Duration(val)
	default:
		return errors.Errorf("invalid duration: %v", v)
	}
	return nil
}

// Load returns the configuration from the file.
// YAML and JSON files are expanded with the environment,
// as well as TOML files detected by the .toml extension.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		var err error
		if strings.EqualFold(filepath.Ext(file), ".toml") {
			err = loadTOML(file, cfg)
		} else {
			err = configloader.UnmarshalAndExpand(file, cfg)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %s", file)
		}
	}

	if cfg.LLMFile != "" && len(cfg.LLM.Providers) == 0 {
		llmFile := cfg.LLMFile
		if !filepath.IsAbs(llmFile) && file != "" {
			llmFile = filepath.Join(filepath.Dir(file), llmFile)
		}
		llm, err := llmfactory.LoadConfig(llmFile)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load llm config %s", llmFile)
		}
		cfg.LLM = *llm
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML decodes the file to a generic document first,
// so the json names of the config structs apply to TOML keys as well.
func loadTOML(file string, cfg *Config) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return errors.WithStack(err)
	}
	expanded := os.ExpandEnv(string(raw))

	doc := map[string]any{}
	if _, err = toml.Decode(expanded, &doc); err != nil {
		return errors.Wrap(err, "invalid TOML")
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return errors.WithStack(err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	return errors.WithStack(dec.Decode(cfg))
}

func (c *Config) applyDefaults() {
	o := &c.Orchestrator
	o.SystemPrompt = values.StringsCoalesce(o.SystemPrompt, orchestrator.DefaultSystemPrompt)
	o.MaxIterations = values.NumbersCoalesce(o.MaxIterations, orchestrator.DefaultMaxIterations)
	o.ModelTimeout = durationOr(o.ModelTimeout, orchestrator.DefaultModelTimeout)
	o.ToolTimeout = durationOr(o.ToolTimeout, orchestrator.DefaultToolTimeout)
	o.ConnectTimeout = durationOr(o.ConnectTimeout, discovery.DefaultConnectTimeout)
	o.DuplicatePolicy = values.StringsCoalesce(o.DuplicatePolicy, discovery.FirstWins.String())

	c.Checkpoint.Kind = values.StringsCoalesce(c.Checkpoint.Kind, checkpoint.KindMemory)
	c.Logs.Level = strings.ToUpper(values.StringsCoalesce(c.Logs.Level, "INFO"))
	c.Logs.Format = strings.ToLower(values.StringsCoalesce(c.Logs.Format, "text"))

	for name, ep := range c.Servers {
		if ep != nil && ep.Name == "" {
			ep.Name = name
		}
	}
}

func durationOr(d Duration, def time.Duration) Duration {
	if d == 0 {
		return Duration(def)
	}
	return d
}

// Validate returns an error if the configuration can't be used.
func (c *Config) Validate() error {
	o := &c.Orchestrator
	if o.MaxIterations < 0 || o.MaxParallelTools < 0 || o.MaxTokens < 0 {
		return errors.New("orchestrator: max_iterations, max_parallel_tools and max_tokens must not be negative")
	}
	if o.ModelTimeout < 0 || o.ToolTimeout < 0 || o.ConnectTimeout < 0 {
		return errors.New("orchestrator: timeouts must not be negative")
	}
	if _, err := discovery.ParsePolicy(o.DuplicatePolicy); err != nil {
		return errors.WithMessage(err, "orchestrator")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Logs.Format != "text" && c.Logs.Format != "json" {
		return errors.Errorf("logs: unsupported format: %s", c.Logs.Format)
	}
	for name, ep := range c.Servers {
		if ep == nil {
			return errors.Errorf("servers: %q is empty", name)
		}
		if err := ep.Validate(); err != nil {
			return errors.WithMessage(err, "servers")
		}
	}
	return nil
}

// Endpoints returns the servers sorted by name.
func (c *Config) Endpoints() []discovery.Endpoint {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]discovery.Endpoint, 0, len(names))
	for _, name := range names {
		list = append(list, *c.Servers[name])
	}
	return list
}

// DiscoveryOptions returns the options for discovery.Discover.
func (c *Config) DiscoveryOptions() []discovery.Option {
	policy, _ := discovery.ParsePolicy(c.Orchestrator.DuplicatePolicy)
	return []discovery.Option{
		discovery.WithPolicy(policy),
		discovery.WithConnectTimeout(c.Orchestrator.ConnectTimeout.Duration()),
	}
}

// SessionOptions returns the options for orchestrator.NewSession.
func (c *Config) SessionOptions() []orchestrator.Option {
	o := c.Orchestrator
	prompt := o.SystemPrompt
	if prompt == "-" {
		prompt = ""
	}
	opts := []orchestrator.Option{
		orchestrator.WithSystemPrompt(prompt),
		orchestrator.WithMaxIterations(o.MaxIterations),
		orchestrator.WithMaxParallelTools(o.MaxParallelTools),
		orchestrator.WithModelTimeout(o.ModelTimeout.Duration()),
		orchestrator.WithToolTimeout(o.ToolTimeout.Duration()),
		orchestrator.WithCheckpointEverySteps(o.CheckpointEverySteps),
	}

	var callOpts []llms.CallOption
	if o.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.MaxTokens))
	}
	if o.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(o.Temperature))
	}
	if len(callOpts) > 0 {
		opts = append(opts, orchestrator.WithCallOptions(callOpts...))
	}
	return opts
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() (xlog.LogLevel, error) {
	switch strings.ToUpper(c.Logs.Level) {
	case "", "INFO":
		return xlog.INFO, nil
	case "ERROR":
		return xlog.ERROR, nil
	case "WARNING", "WARN":
		return xlog.WARNING, nil
	case "NOTICE":
		return xlog.NOTICE, nil
	case "DEBUG":
		return xlog.DEBUG, nil
	case "TRACE":
		return xlog.TRACE, nil
	}
	return xlog.INFO, errors.Errorf("logs: unsupported level: %s", c.Logs.Level)
}

// SetupLogging sets the global log formatter and level.
func (c *Config) SetupLogging(w io.Writer) error {
	level, err := c.LogLevel()
	if err != nil {
		return err
	}
	if c.Logs.Format == "json" {
		xlog.SetFormatter(xlog.NewJSONFormatter(w))
	} else {
		xlog.SetFormatter(xlog.NewStringFormatter(w))
	}
	xlog.SetGlobalLogLevel(level)
	return nil
}
