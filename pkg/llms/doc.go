// Package llms defines the chat model interface used by the orchestrator.
//
// A Model receives the transcript and the tool definitions, and returns one AI
// message: a final text answer, tool calls, or both. Subpackages adapt the
// provider SDKs to this interface.
package llms
