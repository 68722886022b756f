// Package llmutils has helpers to clean up model output.
package llmutils

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bububa/ljson"
)

// CleanJSON returns JSON by trimming prefixes and postfixes,
// this is more useful than TrimBackticks,
// as LLM can reply like,
// `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	trimmedPrefix := trimPrefixBeforeJSON(bs)
	trimmedJSON := trimPostfixAfterJSON(trimmedPrefix)
	return trimmedJSON
}

// Removes any prefixes before the JSON (like "Sure, here you go:")
func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	var start int
	if startObject == -1 && startArray == -1 {
		return bs // No opening brace or bracket found, return the original string
	} else if startObject == -1 {
		start = startArray
	} else if startArray == -1 {
		start = startObject
	} else {
		start = min(startObject, startArray)
	}

	return bs[start:]
}

// Removes any postfixes after the JSON
func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	var end int
	if endObject == -1 && endArray == -1 {
		return bs // No closing brace or bracket found, return the original string
	} else if endObject == -1 {
		end = endArray
	} else if endArray == -1 {
		end = endObject
	} else {
		end = max(endObject, endArray)
	}

	return bs[:end+1]
}

// TrimBackticks removes ```json or ```
func TrimBackticks(text string) string {
	return string(BytesTrimBackticks([]byte(text)))
}

var backtick = []byte("```")

// BytesTrimBackticks removes ```json or ```
func BytesTrimBackticks(bs []byte) []byte {
	size := len(bs)
	startIndex := bytes.Index(bs, backtick)
	if startIndex == -1 {
		return bs
	}
	startIndex += len(backtick)

	for i := startIndex; i < size && bs[i] != '{' && bs[i] != '['; i++ {
		if bs[i] == '\n' {
			startIndex = i + 1
			break
		}
	}

	contentAfterStart := bs[startIndex:]
	endIndex := bytes.LastIndex(contentAfterStart, backtick)
	if endIndex == -1 {
		return contentAfterStart
	}
	return bytes.TrimSpace(contentAfterStart[:endIndex])
}

// UnmarshalLenient decodes JSON wrapped in prose or code fences.
func UnmarshalLenient(bs []byte, ret any) error {
	return ljson.Unmarshal(CleanJSON(bs), ret)
}

// NormalizeArguments returns the tool call arguments as a JSON object.
// Arguments that are valid JSON are returned as is, empty arguments are `{}`.
// Otherwise the object is recovered from prose or code fences,
// and the original text is returned if that fails.
func NormalizeArguments(args string) string {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" || trimmed == "null" {
		return "{}"
	}
	if json.Valid([]byte(trimmed)) {
		return args
	}

	var obj map[string]any
	if err := UnmarshalLenient([]byte(trimmed), &obj); err != nil || obj == nil {
		return args
	}
	js, err := json.Marshal(obj)
	if err != nil {
		return args
	}
	return string(js)
}

// EnsureEndsWithNewline ensures the message ends with a newline,
// it also removes any extra leading and trailing spaces.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	c := len(s)
	if c == 0 {
		return s
	}
	if s[c-1] != '\n' {
		return s + "\n"
	}
	return s
}
