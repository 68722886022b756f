package orchestrator

import (
	"context"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools"
)

// State is the step of the turn state machine.
type State int

const (
	// StateDeciding calls the model for the next AI message.
	StateDeciding State = iota
	// StateActing executes the tool calls of the last AI message.
	StateActing
	// StateTerminal is reached when the AI message has no tool calls.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateDeciding:
		return "deciding"
	case StateActing:
		return "acting"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

// Callback is notified on turn events.
// Tool events may be delivered concurrently.
type Callback interface {
	tools.Callback

	OnTurnStart(ctx context.Context, threadID, input string)
	OnTurnEnd(ctx context.Context, res *TurnResult)
	OnTurnError(ctx context.Context, threadID, input string, err error)

	OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message)
	OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse)

	OnToolNotFound(ctx context.Context, name string)
	OnStateChange(ctx context.Context, threadID string, from, to State)
}

// Noop is the default callback of a Session. It does nothing.
type Noop struct{}

var _ Callback = Noop{}

func (Noop) OnTurnStart(ctx context.Context, threadID, input string)                          {}
func (Noop) OnTurnEnd(ctx context.Context, res *TurnResult)                                   {}
func (Noop) OnTurnError(ctx context.Context, threadID, input string, err error)               {}
func (Noop) OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message) {}
func (Noop) OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse)     {}
func (Noop) OnToolStart(ctx context.Context, tool tools.ITool, input string)                  {}
func (Noop) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string)     {}
func (Noop) OnToolError(ctx context.Context, tool tools.ITool, input string, err error)       {}
func (Noop) OnToolNotFound(ctx context.Context, name string)                                  {}
func (Noop) OnStateChange(ctx context.Context, threadID string, from, to State)               {}
