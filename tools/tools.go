package tools

//go:generate mockgen -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools github.com/effective-security/toolchat/tools ITool,Callback

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ITool is a tool for the llm agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() any

	// Call executes the tool with the given JSON arguments and returns the result.
	// If the tool fails to parse or validate the input, it returns ErrInvalidArguments error,
	// any other failure is ErrExecution.
	Call(context.Context, string) (string, error)
}

// Tool is an ITool with typed input and output.
type Tool[I any, O any] interface {
	ITool
	Run(context.Context, *I) (O, error)
}

// Callback is notified on tool execution.
type Callback interface {
	OnToolStart(context.Context, ITool, string)
	OnToolEnd(context.Context, ITool, string, string)
	OnToolError(context.Context, ITool, string, error)
}

var (
	// ErrToolNotFound is returned when no tool is registered with the requested name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when the arguments do not match the tool schema.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrExecution is returned when the tool fails or times out.
	ErrExecution = errors.New("tool execution failed")
)

// NotFound returns ErrToolNotFound for the name, listing the available tools.
func NotFound(name string, available []string) error {
	return errors.Wrapf(ErrToolNotFound, "%q, available tools: %v", name, available)
}

// AsExecutionError marks err as ErrExecution, unless it is already classified.
func AsExecutionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidArguments) || errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrExecution) {
		return err
	}
	return &classified{cause: err, class: ErrExecution}
}

// MetaErrorClass is the result metadata key carrying the class of a failed call,
// so the class survives a hop between hosts.
const MetaErrorClass = "toolchat/error_class"

// Error classes reported by ErrorClass.
const (
	ClassToolNotFound     = "tool_not_found"
	ClassInvalidArguments = "invalid_arguments"
	ClassExecution        = "execution"
)

// ErrorClass returns the class of a tool error, ClassExecution when unclassified.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArguments):
		return ClassInvalidArguments
	case errors.Is(err, ErrToolNotFound):
		return ClassToolNotFound
	default:
		return ClassExecution
	}
}

// Classify marks err with the sentinel of class. Unknown classes are ErrExecution.
func Classify(class string, err error) error {
	if err == nil {
		return nil
	}
	switch class {
	case ClassInvalidArguments:
		return &classified{cause: err, class: ErrInvalidArguments}
	case ClassToolNotFound:
		return &classified{cause: err, class: ErrToolNotFound}
	default:
		return &classified{cause: err, class: ErrExecution}
	}
}

// classified keeps the cause chain of err and matches its class sentinel with errors.Is.
type classified struct {
	cause error
	class error
}

func (e *classified) Error() string { return e.cause.Error() }
func (e *classified) Unwrap() error { return e.cause }
func (e *classified) Is(target error) bool {
	return target == e.class
}

// Descriptor is the public description of a tool.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Parameters  any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// Example of the arguments, set for tools that implement Exampler.
	Example string `json:"example,omitempty" yaml:"example,omitempty"`
}

// Exampler is implemented by tools that can show example arguments.
type Exampler interface {
	Example() string
}

// Describe returns the Descriptor of the tool.
func Describe(t ITool) Descriptor {
	d := Descriptor{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
	if e, ok := t.(Exampler); ok {
		d.Example = e.Example()
	}
	return d
}

// Names returns the names of the tools.
func Names(list ...ITool) []string {
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name())
	}
	return names
}
