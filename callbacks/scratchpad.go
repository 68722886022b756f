package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/orchestrator"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools"
)

// ensure Scratchpad implements orchestrator.Callback
var _ orchestrator.Callback = (*Scratchpad)(nil)

var TimeNowFn = time.Now

type RunStats struct {
	ThreadID string
	RunID    string
	Failed   bool

	Duration            time.Duration
	TotalMessages       uint32
	ModelCalls          uint32
	InputTokens         uint64
	OutputTokens        uint64
	TotalTokens         uint64
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

// Scratchpad records a trace and stats of each turn.
// The record of a completed turn is kept until it is taken with EndRun.
type Scratchpad struct {
	runs map[string]*run
	done map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		done: make(map[string]*run),
		mode: mode,
	}
}

// EndRun returns the stats and the trace of the last completed turn of the thread.
func (l *Scratchpad) EndRun(threadID string) (*RunStats, []byte) {
	l.lock.Lock()
	run := l.done[threadID]
	delete(l.done, threadID)
	l.lock.Unlock()

	if run == nil {
		return nil, nil
	}
	stats := run.stats
	return &stats, run.w.Bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	l.lock.Lock()
	defer l.lock.Unlock()

	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil
	}

	return l.runs[chatCtx.GetThreadID()]
}

func (l *Scratchpad) OnTurnStart(ctx context.Context, threadID, input string) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}

	r := &run{
		stats: RunStats{
			ThreadID: chatCtx.GetThreadID(),
			RunID:    chatCtx.RunID(),
		},
		chatCtx: chatCtx,
		started: time.Now(),
	}
	l.lock.Lock()
	l.runs[chatCtx.GetThreadID()] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
	r.print("Input:", input)
}

func (l *Scratchpad) finish(ctx context.Context, failed bool) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	run.stats.Duration = time.Since(run.started)
	run.stats.Failed = failed

	stats := run.stats
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
	))
	run.print(fmt.Sprintf("Model calls: %d, Messages: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.ModelCalls,
		stats.TotalMessages,
		stats.InputTokens,
		stats.OutputTokens,
		stats.TotalTokens,
	))
	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, stats.ThreadID)
	l.done[stats.ThreadID] = run
	l.lock.Unlock()
}

func (l *Scratchpad) OnTurnEnd(ctx context.Context, res *orchestrator.TurnResult) {
	if run := l.getRun(ctx); run != nil && l.mode == ModeVerbose {
		run.print("Output:", res.Answer)
	}
	l.finish(ctx, false)
}

func (l *Scratchpad) OnTurnError(ctx context.Context, threadID, input string, err error) {
	if run := l.getRun(ctx); run != nil {
		run.print("*** Error ***", err.Error())
	}
	l.finish(ctx, true)
}

func (l *Scratchpad) printMessages(messages []chatmodel.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		for _, tc := range msg.ToolCalls {
			buf.WriteString("  - ")
			buf.WriteString(tc.String())
			buf.WriteString("\n")
		}
		if msg.Role == chatmodel.RoleTool {
			fmt.Fprintf(&buf, "  - ToolResult: %s (%s), error: %t\n", msg.ToolCallID, msg.Name, msg.IsError)
		}
	}
	return buf.String()
}

func (l *Scratchpad) OnModelStart(ctx context.Context, model llms.Model, messages []chatmodel.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint32(&run.stats.ModelCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print("*** Model Call ***", fmt.Sprintf("%s model, %d messages", model.GetName(), count))
	if l.mode == ModeVerbose {
		run.print(l.printMessages(messages))
	}
}

func (l *Scratchpad) OnModelEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	u := resp.Usage
	atomic.AddUint64(&run.stats.InputTokens, uint64(u.InputTokens))
	atomic.AddUint64(&run.stats.OutputTokens, uint64(u.OutputTokens))
	atomic.AddUint64(&run.stats.TotalTokens, uint64(u.TotalTokens))

	run.print("*** Model Call End ***", fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d total tokens", model.GetName(), u.InputTokens, u.OutputTokens, u.TotalTokens))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(tool.Name(), "*** Tool Start ***")
	run.print(tool.Name(), "Input:", input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(tool.Name(), "Output:", output)
	}
	run.print(tool.Name(), "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(tool.Name(), "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, name string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print("*** Tool Not Found ***", name)
}

func (l *Scratchpad) OnStateChange(ctx context.Context, threadID string, from, to orchestrator.State) {
	if l.mode != ModeVerbose {
		return
	}
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	run.print("*** State ***", from.String(), "->", to.String())
}

type run struct {
	chatCtx chatmodel.ChatContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp threadID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.chatCtx.GetThreadID())
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.chatCtx.RunID())
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
