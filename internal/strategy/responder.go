package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/tenex-agents/tenex/internal/llm"
)

// maxResponderHistory bounds how much conversation history a responder
// prompt includes.
const maxResponderHistory = 20

// LLMResponder produces agent responses through the completion capability,
// framing each request with the agent's persona and the conversation so far.
type LLMResponder struct {
	completer llm.Completer
}

// NewLLMResponder creates an LLMResponder.
func NewLLMResponder(completer llm.Completer) *LLMResponder {
	return &LLMResponder{completer: completer}
}

// Respond implements Responder.
func (r *LLMResponder) Respond(ctx context.Context, req Request) (string, error) {
	completion, err := r.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: personaPrompt(req)},
		{Role: llm.RoleUser, Content: req.Prompt},
	})
	if err != nil {
		return "", fmt.Errorf("agent %s response: %w", req.Agent.Name, err)
	}
	return completion.Content, nil
}

// personaPrompt frames the agent's identity and the conversation context.
func personaPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", req.Agent.Name, req.Agent.Role)
	if req.Agent.Description != "" {
		b.WriteString(req.Agent.Description)
		b.WriteByte('\n')
	}
	if len(req.Agent.Expertise) > 0 {
		fmt.Fprintf(&b, "Your expertise: %s.\n", strings.Join(req.Agent.Expertise, ", "))
	}

	if conv := req.Conversation; conv != nil {
		if conv.Metadata.ContextSummary != "" {
			b.WriteString("\n")
			b.WriteString(conv.Metadata.ContextSummary)
		}
		history := conv.History
		if len(history) > maxResponderHistory {
			history = history[len(history)-maxResponderHistory:]
		}
		if len(history) > 0 {
			b.WriteString("\nConversation so far:\n")
			for _, ev := range history {
				fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(strings.TrimSpace(ev.Content), "\n", " "))
			}
		}
	}
	return b.String()
}
