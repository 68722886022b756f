package orchestrator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/host"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llmutils"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// run executes the state machine of one turn.
func (s *Session) run(ctx context.Context, threadID, input string) (*TurnResult, error) {
	cp, err := s.store.Get(ctx, threadID)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load thread %s", threadID)
	}

	transcript := cp.Messages
	if len(transcript) == 0 && s.systemPrompt != "" {
		transcript = transcript.Append(chatmodel.SystemMessage(s.systemPrompt))
	}
	base := len(transcript)
	transcript = transcript.Append(chatmodel.HumanMessage(input))

	res := &TurnResult{ThreadID: threadID}
	state := StateDeciding
	for state != StateTerminal {
		switch state {
		case StateDeciding:
			if res.Steps >= s.maxIterations {
				return nil, errors.Wrapf(ErrMaxIterations, "thread %s: %d model calls", threadID, res.Steps)
			}
			if err = ctx.Err(); err != nil {
				return nil, errors.WithStack(err)
			}
			if err = transcript.Validate(); err != nil {
				return nil, err
			}

			msg, err := s.decide(ctx, transcript)
			if err != nil {
				return nil, err
			}
			res.Steps++
			transcript = transcript.Append(msg)

			if msg.HasToolCalls() {
				s.setState(ctx, threadID, &state, StateActing)
			} else {
				res.Answer = msg.Content
				s.setState(ctx, threadID, &state, StateTerminal)
			}

		case StateActing:
			last, _ := transcript.Last()
			results := s.act(ctx, last.ToolCalls)
			res.ToolCalls += len(results)
			transcript = transcript.Append(results...)

			if s.checkpointSteps {
				if cp, err = s.save(ctx, cp, transcript); err != nil {
					return nil, err
				}
			}
			s.setState(ctx, threadID, &state, StateDeciding)
		}
	}

	if cp, err = s.save(ctx, cp, transcript); err != nil {
		return nil, err
	}
	res.Version = cp.Version
	res.Messages = transcript[base:].Clone()
	return res, nil
}

func (s *Session) setState(ctx context.Context, threadID string, state *State, to State) {
	from := *state
	*state = to
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "state_changed",
		"thread", threadID,
		"from", from.String(),
		"to", to.String(),
	)
	s.callback.OnStateChange(ctx, threadID, from, to)
}

func (s *Session) save(ctx context.Context, cp *checkpoint.Checkpoint, transcript chatmodel.Transcript) (*checkpoint.Checkpoint, error) {
	next := cp.Clone()
	next.Messages = transcript
	if next.Metadata == nil {
		next.Metadata = map[string]string{}
	}
	next.Metadata[MetadataModel] = s.model.GetName()
	saved, err := s.store.Put(ctx, next)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to save thread %s", cp.ThreadID)
	}
	return saved, nil
}

// decide calls the model and returns the AI message with unique tool call ids
// and normalized arguments.
func (s *Session) decide(ctx context.Context, transcript chatmodel.Transcript) (chatmodel.Message, error) {
	modelName := s.model.GetName()

	s.callback.OnModelStart(ctx, s.model, transcript)

	callCtx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	started := time.Now()
	resp, err := s.model.GenerateContent(callCtx, transcript, s.toolDefs, s.callOptions...)
	metricskey.PerfModelCall.MeasureSince(started, modelName)
	if err == nil && resp == nil {
		err = errors.WithStack(llms.ErrEmptyResponse)
	}
	if err != nil {
		metricskey.StatsModelCallsFailed.IncrCounter(1, modelName)
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "model_failed",
			"model", modelName,
			"messages", len(transcript),
			"err", err.Error(),
		)
		return chatmodel.Message{}, &modelError{model: modelName, cause: err}
	}
	metricskey.StatsModelCallsSucceeded.IncrCounter(1, modelName)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(resp.Usage.InputTokens), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(resp.Usage.OutputTokens), modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(resp.Usage.TotalTokens), modelName)

	s.callback.OnModelEnd(ctx, s.model, resp)

	msg := resp.Message.Clone()
	msg.Role = chatmodel.RoleAI
	msg.ToolCallID = ""
	msg.IsError = false

	// ids must be unique across the transcript for the results to correlate
	used := map[string]bool{}
	for _, m := range transcript {
		for _, tc := range m.ToolCalls {
			used[tc.ID] = true
		}
	}
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		if tc.ID == "" || used[tc.ID] {
			tc.ID = "call_" + uuid.NewString()
		}
		used[tc.ID] = true
		tc.Arguments = llmutils.NormalizeArguments(tc.Arguments)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "model_responded",
		"model", modelName,
		"stop_reason", resp.StopReason,
		"tool_calls", len(msg.ToolCalls),
		"content", slices.StringUpto(msg.Content, 64),
	)
	return msg, nil
}

// act executes the calls concurrently and returns one Tool message per call,
// in the order of calls.
func (s *Session) act(ctx context.Context, calls []chatmodel.ToolCall) []chatmodel.Message {
	results := make([]chatmodel.Message, len(calls))

	var g errgroup.Group
	if s.maxParallelTools > 0 {
		g.SetLimit(s.maxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = s.execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Session) execute(ctx context.Context, call chatmodel.ToolCall) chatmodel.Message {
	tool, ok := s.tools.Get(call.Name)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, call.Name)
		names := s.tools.Names()
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_not_found",
			"tool", call.Name,
			"call_id", call.ID,
			"available_tools", names,
		)
		s.callback.OnToolNotFound(ctx, call.Name)
		return chatmodel.ToolErrorMessage(call, tools.NotFound(call.Name, names))
	}

	s.callback.OnToolStart(ctx, tool, call.Arguments)

	started := time.Now()
	out, err := host.CallWithTimeout(ctx, tool, call.Arguments, s.toolTimeout)
	metricskey.PerfToolCall.MeasureSince(started, call.Name)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, call.Name)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"tool", call.Name,
			"call_id", call.ID,
			"args", slices.StringUpto(call.Arguments, 64),
			"err", err.Error(),
		)
		s.callback.OnToolError(ctx, tool, call.Arguments, err)
		return chatmodel.ToolErrorMessage(call, err)
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, call.Name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tool_call_response",
		"tool", call.Name,
		"call_id", call.ID,
		"content_length", len(out),
	)
	s.callback.OnToolEnd(ctx, tool, call.Arguments, out)
	return chatmodel.ToolMessage(call, out)
}
