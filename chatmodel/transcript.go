package chatmodel

import (
	"github.com/cockroachdb/errors"
)

// Transcript is an ordered message history.
// It is only extended, never changed in place.
type Transcript []Message

// Append returns a new Transcript with the messages added.
// The receiver and its backing array are left untouched,
// so a Transcript can be shared between goroutines.
func (t Transcript) Append(msgs ...Message) Transcript {
	out := make(Transcript, 0, len(t)+len(msgs))
	out = append(out, t...)
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}

// Clone returns a deep copy.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	return Transcript(nil).Append(t...)
}

// Last returns the last message, or false if the transcript is empty.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// Pending returns the tool calls of the last AI message
// that have no Tool message yet.
func (t Transcript) Pending() []ToolCall {
	for i := len(t) - 1; i >= 0; i-- {
		m := t[i]
		if m.Role != RoleAI {
			continue
		}
		answered := map[string]bool{}
		for _, r := range t[i+1:] {
			if r.Role == RoleTool {
				answered[r.ToolCallID] = true
			}
		}
		var pending []ToolCall
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				pending = append(pending, tc)
			}
		}
		return pending
	}
	return nil
}

// Validate checks the correlation invariant: every tool call is answered by
// exactly one Tool message before any other non-tool message, and every Tool
// message answers a requested call.
func (t Transcript) Validate() error {
	pending := map[string]bool{}
	for i, m := range t {
		switch m.Role {
		case RoleTool:
			if !pending[m.ToolCallID] {
				return errors.Wrapf(ErrUnexpectedToolResult, "message %d: tool_call_id %q", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		default:
			if len(pending) > 0 {
				return errors.Wrapf(ErrUnresolvedToolCall, "message %d: %d calls without result", i, len(pending))
			}
			for _, tc := range m.ToolCalls {
				if tc.ID == "" || pending[tc.ID] {
					return errors.Wrapf(ErrUnresolvedToolCall, "message %d: invalid or duplicate tool call id %q", i, tc.ID)
				}
				pending[tc.ID] = true
			}
		}
	}
	if len(pending) > 0 {
		return errors.Wrapf(ErrUnresolvedToolCall, "%d calls without result", len(pending))
	}
	return nil
}

// Conversation returns the Human messages and final AI answers,
// skipping system, tool and tool-requesting AI messages.
func (t Transcript) Conversation() Transcript {
	var out Transcript
	for _, m := range t {
		switch {
		case m.Role == RoleHuman:
			out = append(out, m)
		case m.Role == RoleAI && !m.HasToolCalls():
			out = append(out, m)
		}
	}
	return out
}
