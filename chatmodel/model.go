package chatmodel

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidChatContext is returned when the context has no ChatContext.
	ErrInvalidChatContext = errors.New("invalid chat context")
	// ErrUnresolvedToolCall is returned when a transcript has a tool call
	// without a matching tool message.
	ErrUnresolvedToolCall = errors.New("unresolved tool call")
	// ErrUnexpectedToolResult is returned when a tool message answers a call
	// that was never requested, or answers it twice.
	ErrUnexpectedToolResult = errors.New("unexpected tool result")
)
