// Package llm defines the completion capability consumed by the routing
// core. Provider transport, retries, and response normalization live behind
// the Completer interface and are out of scope for the router itself.
package llm

import "context"

// Role values for completion messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Completion is the result of a single completion call.
type Completion struct {
	// Content is the raw text produced by the model.
	Content string `json:"content"`
	// Usage reports token consumption, when the provider supplies it.
	Usage Usage `json:"usage"`
}

// Completer is the single blocking completion capability. Implementations
// own their retry and backoff behavior; callers make exactly one logical
// call per decision.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// CompleterFunc adapts a function to the Completer interface. Used heavily
// by tests to script model behavior.
type CompleterFunc func(ctx context.Context, messages []Message) (*Completion, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	return f(ctx, messages)
}
