package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/orchestrator"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = Noop{}
	_ tools.Callback        = Noop{}
	_ orchestrator.Callback = (*Printer)(nil)
	_ tools.Callback        = (*Printer)(nil)
	_ orchestrator.Callback = (*PackageLogger)(nil)
	_ tools.Callback        = (*PackageLogger)(nil)
	_ orchestrator.Callback = (*Fanout)(nil)
	_ tools.Callback        = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnTurnStart(ctx context.Context, threadID, input string) {
	for _, callback := range l.callbacks {
		callback.OnTurnStart(ctx, threadID, input)
	}
}

func (l *Fanout) OnTurnEnd(ctx context.Context, res *orchestrator.TurnResult) {
	for _, callback := range l.callbacks {
		callback.OnTurnEnd(ctx, res)
	}
}

func (l *Fanout) OnTurnError(ctx context.Context, threadID, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnTurnError(ctx, threadID, input, err)
	}
}

func (l *Fanout) OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message) {
	for _, callback := range l.callbacks {
		callback.OnModelStart(ctx, model, messages)
	}
}

func (l *Fanout) OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnModelEnd(ctx, model, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, input, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, name string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, name)
	}
}

func (l *Fanout) OnStateChange(ctx context.Context, threadID string, from, to orchestrator.State) {
	for _, callback := range l.callbacks {
		callback.OnStateChange(ctx, threadID, from, to)
	}
}

// Noop does nothing.
type Noop = orchestrator.Noop

func NewNoop() Noop {
	return Noop{}
}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnTurnStart(ctx context.Context, threadID, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn Start: %s\n", threadID)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnTurnEnd(ctx context.Context, res *orchestrator.TurnResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn End: %s, %d steps, %d tool calls\n", res.ThreadID, res.Steps, res.ToolCalls)
	if l.Mode == ModeVerbose {
		fmt.Fprintln(l.Out, res.Answer)
	}
}

func (l *Printer) OnTurnError(ctx context.Context, threadID, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Turn Error: %s: %s\n", threadID, err.Error())
}

func (l *Printer) OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call: %s model, %d messages\n", model.GetName(), len(messages))
}

func (l *Printer) OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call End: %s model, %d tool calls\n", model.GetName(), len(resp.Message.ToolCalls))
	if l.Mode == ModeVerbose {
		for _, tc := range resp.Message.ToolCalls {
			fmt.Fprintf(l.Out, "  - %s\n", tc.String())
		}
	}
}

func (l *Printer) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", tool.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s\n", tool.Name())
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", tool.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, name string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", name)
}

func (l *Printer) OnStateChange(ctx context.Context, threadID string, from, to orchestrator.State) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "State: %s -> %s\n", from, to)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnTurnStart(ctx context.Context, threadID, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "turn_start",
		"thread", threadID,
		"input", slices.StringUpto(input, 64),
	)
}

func (l *PackageLogger) OnTurnEnd(ctx context.Context, res *orchestrator.TurnResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "turn_end",
		"thread", res.ThreadID,
		"steps", res.Steps,
		"tool_calls", res.ToolCalls,
		"result", slices.StringUpto(res.Answer, 64),
	)
}

func (l *PackageLogger) OnTurnError(ctx context.Context, threadID, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "turn_error",
		"thread", threadID,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_start",
		"model", model.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_end",
		"model", model.GetName(),
		"tool_calls", len(resp.Message.ToolCalls),
		"tokens", resp.Usage.TotalTokens,
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool.Name(),
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", tool.Name(),
		"output", slices.StringUpto(output, 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", tool.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, name string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"tool", name,
	)
}

func (l *PackageLogger) OnStateChange(ctx context.Context, threadID string, from, to orchestrator.State) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "state_change",
		"thread", threadID,
		"from", from.String(),
		"to", to.String(),
	)
}
