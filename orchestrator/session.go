// Package orchestrator runs conversation turns: the model decides, the
// requested tools act, and the loop repeats until the model answers
// without tool calls.
//
// A Session is constructed explicitly with its model, tools and checkpoint
// store. Each turn loads the thread transcript, extends it and writes it
// back as one checkpoint.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "orchestrator")

// MetadataModel is the checkpoint metadata key of the model that wrote the thread.
const MetadataModel = "model"

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	ThreadID string `json:"thread_id" yaml:"thread_id"`
	// Answer is the content of the final AI message.
	Answer string `json:"answer" yaml:"answer"`
	// Messages are the messages appended by this turn, starting with the Human message.
	Messages chatmodel.Transcript `json:"messages" yaml:"messages"`
	// Steps is the number of model calls.
	Steps int `json:"steps" yaml:"steps"`
	// ToolCalls is the number of executed tool calls.
	ToolCalls int `json:"tool_calls" yaml:"tool_calls"`
	// Version is the checkpoint version written by the turn.
	Version uint64 `json:"version" yaml:"version"`
}

// Session is the conversation context shared by turns of any thread.
type Session struct {
	model            llms.Model
	local            []tools.ITool
	registry         *discovery.Registry
	store            checkpoint.Store
	systemPrompt     string
	callOptions      []llms.CallOption
	maxIterations    int
	modelTimeout     time.Duration
	toolTimeout      time.Duration
	maxParallelTools int
	checkpointSteps  bool
	callback         Callback

	tools    *discovery.Registry
	toolDefs []llms.ToolDefinition
	locks    threadLocks
	closed   atomic.Bool
}

// NewSession returns a Session for the model.
// Local tools come first, followed by the tools of the registry.
// The registry is closed if the session can't be created.
func NewSession(model llms.Model, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	s := &Session{
		model:         model,
		systemPrompt:  DefaultSystemPrompt,
		maxIterations: DefaultMaxIterations,
		modelTimeout:  DefaultModelTimeout,
		toolTimeout:   DefaultToolTimeout,
		callback:      Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = checkpoint.NewMemoryStore()
	}

	policy := discovery.FirstWins
	if s.registry != nil {
		policy = s.registry.Policy()
	}
	if err := s.initTools(policy); err != nil {
		if s.registry != nil {
			_ = s.registry.Close()
		}
		return nil, err
	}

	logger.KV(xlog.DEBUG,
		"status", "session_created",
		"model", model.GetName(),
		"tools", s.tools.Names(),
	)
	return s, nil
}

func (s *Session) initTools(policy discovery.Policy) error {
	s.tools = discovery.NewRegistry(policy)
	if err := s.tools.Add(s.local...); err != nil {
		return err
	}
	if s.registry != nil {
		if err := s.tools.Add(s.registry.Tools()...); err != nil {
			return err
		}
	}
	if s.tools.Len() == 0 {
		return nil
	}

	if !s.model.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
		return errors.Newf("model %s does not support function calling", s.model.GetName())
	}
	defs, err := llms.ToolDefinitions(s.tools.Tools()...)
	if err != nil {
		return err
	}
	s.toolDefs = defs
	return nil
}

// Model returns the model of the session.
func (s *Session) Model() llms.Model {
	return s.model
}

// Tools returns the tools offered to the model, in order.
func (s *Session) Tools() []tools.ITool {
	return s.tools.Tools()
}

// Store returns the checkpoint store.
func (s *Session) Store() checkpoint.Store {
	return s.store
}

// History returns the stored transcript of the thread.
func (s *Session) History(ctx context.Context, threadID string) (chatmodel.Transcript, error) {
	if s.closed.Load() {
		return nil, errors.WithStack(ErrClosed)
	}
	cp, err := s.store.Get(ctx, threadID)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load thread %s", threadID)
	}
	return cp.Messages, nil
}

// Reset deletes the stored transcript of the thread.
// It waits for a running turn of the thread to complete.
func (s *Session) Reset(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return errors.WithStack(ErrClosed)
	}
	unlock, err := s.locks.acquire(ctx, threadID)
	if err != nil {
		return errors.WithStack(err)
	}
	defer unlock()

	if err = s.store.Delete(ctx, threadID); err != nil {
		return errors.WithMessagef(err, "failed to delete thread %s", threadID)
	}
	logger.ContextKV(ctx, xlog.INFO,
		"status", "thread_reset",
		"thread", threadID,
	)
	return nil
}

// Close releases the registry owned by the session.
// The checkpoint store is left open for the caller to close.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.registry != nil {
		return s.registry.Close()
	}
	return nil
}

// Run executes one turn of the thread with the user input.
// A new thread id is generated when threadID is empty.
func (s *Session) Run(ctx context.Context, threadID, input string) (*TurnResult, error) {
	if s.closed.Load() {
		return nil, errors.WithStack(ErrClosed)
	}

	chatCtx := chatmodel.NewChatContext(threadID, nil)
	threadID = chatCtx.GetThreadID()
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	unlock, err := s.locks.acquire(ctx, threadID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer unlock()

	modelName := s.model.GetName()
	started := time.Now()
	defer metricskey.PerfTurn.MeasureSince(started, modelName)

	s.callback.OnTurnStart(ctx, threadID, input)

	res, err := s.run(ctx, threadID, input)
	if err != nil {
		metricskey.StatsTurnsFailed.IncrCounter(1, modelName)
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "turn_failed",
			"thread", threadID,
			"run", chatCtx.RunID(),
			"err", err.Error(),
		)
		s.callback.OnTurnError(ctx, threadID, input, err)
		return nil, err
	}

	metricskey.StatsTurnsSucceeded.IncrCounter(1, modelName)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "turn_completed",
		"thread", threadID,
		"run", chatCtx.RunID(),
		"steps", res.Steps,
		"tool_calls", res.ToolCalls,
		"version", res.Version,
	)
	s.callback.OnTurnEnd(ctx, res)
	return res, nil
}
