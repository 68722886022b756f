// Package tools defines the Tool interface shared by the tool host, the discovery registry and the orchestrator.
// A tool is a named function with a JSON schema for its arguments; it is called with a serialized JSON object
// and returns its result as text.
package tools
