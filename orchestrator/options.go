package orchestrator

import (
	"time"

	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools"
)

const (
	// DefaultMaxIterations is the default number of model calls in one turn.
	DefaultMaxIterations = 10
	// DefaultModelTimeout is the default bound of a single model call.
	DefaultModelTimeout = 2 * time.Minute
	// DefaultToolTimeout is the default bound of a single tool call.
	DefaultToolTimeout = 30 * time.Second
	// DefaultSystemPrompt asks for short final answers.
	DefaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help, then give a concise final answer."
)

// Option is a function that can be used to modify the Session.
type Option func(*Session)

// WithTools adds local tools. They are offered to the model before
// the tools of the registry.
func WithTools(list ...tools.ITool) Option {
	return func(s *Session) {
		s.local = append(s.local, list...)
	}
}

// WithRegistry sets the discovered tools. The session takes ownership
// of the registry and closes it on Close.
func WithRegistry(r *discovery.Registry) Option {
	return func(s *Session) {
		s.registry = r
	}
}

// WithStore sets the checkpoint store, the default is an in-memory store.
func WithStore(store checkpoint.Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithSystemPrompt sets the system instruction seeded into new threads.
// Empty prompt disables seeding.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// WithCallOptions sets the options passed to every model call.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(s *Session) {
		s.callOptions = append(s.callOptions, opts...)
	}
}

// WithMaxIterations limits the model calls of one turn.
func WithMaxIterations(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithModelTimeout sets the bound of a single model call.
func WithModelTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.modelTimeout = d
		}
	}
}

// WithToolTimeout sets the bound of a single tool call.
func WithToolTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.toolTimeout = d
		}
	}
}

// WithMaxParallelTools limits the tool calls of one batch running at once,
// 0 means no limit.
func WithMaxParallelTools(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxParallelTools = n
		}
	}
}

// WithCheckpointEverySteps writes a checkpoint after each completed tool batch,
// not only at the end of the turn.
func WithCheckpointEverySteps(enabled bool) Option {
	return func(s *Session) {
		s.checkpointSteps = enabled
	}
}

// WithCallback sets the callback notified on turn events.
// A nil callback keeps the default Noop.
func WithCallback(cb Callback) Option {
	return func(s *Session) {
		if cb != nil {
			s.callback = cb
		}
	}
}
