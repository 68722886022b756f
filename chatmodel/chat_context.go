package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
	"github.com/google/uuid"
)

// ChatContext is the context of a conversation thread.
// It contains the thread ID, the run ID of the current turn, and metadata.
type ChatContext interface {
	GetThreadID() string
	// RunID returns the unique ID of the current turn
	RunID() string
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	threadID string
	runID    string
	metadata sync.Map
	appData  any
}

func (c *chatContext) GetThreadID() string {
	return c.threadID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) AppData() any {
	return c.appData
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns ChatContext for the thread,
// a new thread ID is generated if threadID is empty.
func NewChatContext(threadID string, appData any) ChatContext {
	return &chatContext{
		threadID: values.StringsCoalesce(threadID, NewThreadID()),
		runID:    uuid.NewString(),
		appData:  appData,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetThreadID retrieves the thread ID from the provided context.
func GetThreadID(ctx context.Context) (string, error) {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok && v.GetThreadID() != "" {
		return v.GetThreadID(), nil
	}
	return "", errors.WithStack(ErrInvalidChatContext)
}

// NewThreadID generates a new thread ID using the flake ID generator.
func NewThreadID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
