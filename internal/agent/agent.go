// Package agent defines the boundary with the autonomous research runtime.
//
// A runtime accepts a prompt and produces an ordered stream of messages:
// assistant text, tool invocations, and at most one terminal result. The
// research runner consumes that stream without knowing which runtime backs
// it, so tests can substitute a scripted producer.
package agent

import (
	"context"
	"strings"
)

type MessageKind string

const (
	MessageText    MessageKind = "text"
	MessageToolUse MessageKind = "tool_use"
	MessageResult  MessageKind = "result"
)

const (
	ToolWebSearch         = "WebSearch"
	ToolWebFetch          = "WebFetch"
	PermissionAcceptEdits = "acceptEdits"
)

// Tool categories the runner counts.
const (
	CategorySearch = "search"
	CategoryFetch  = "fetch"
)

// Message is one item of a runtime stream. Exactly one group of fields is
// meaningful, selected by Kind.
type Message struct {
	Kind MessageKind

	// MessageText: the text fragments of a single assistant message.
	Texts []string

	// MessageToolUse
	Tool  string
	Input map[string]any

	// MessageResult
	Result string
}

func Text(fragments ...string) Message {
	return Message{Kind: MessageText, Texts: fragments}
}

func ToolUse(tool string, input map[string]any) Message {
	return Message{Kind: MessageToolUse, Tool: tool, Input: input}
}

func Result(result string) Message {
	return Message{Kind: MessageResult, Result: result}
}

// Category maps a tool name to search or fetch, or "" for tools the runner
// does not track.
func (m Message) Category() string {
	switch strings.ToLower(strings.TrimSpace(m.Tool)) {
	case "websearch", "web_search", "search":
		return CategorySearch
	case "webfetch", "web_fetch", "fetch":
		return CategoryFetch
	}
	return ""
}

// InputString returns the named string field of the tool input.
func (m Message) InputString(key string) string {
	if m.Input == nil {
		return ""
	}
	value, _ := m.Input[key].(string)
	return value
}

type Options struct {
	SystemPrompt   string
	AllowedTools   []string
	PermissionMode string
	MaxTurns       int
	Model          string
}

// Runtime starts one agent run. The message channel is closed when the run
// ends; the error channel then yields at most one error and is closed.
type Runtime interface {
	Query(ctx context.Context, prompt string, opts Options) (<-chan Message, <-chan error)
}
