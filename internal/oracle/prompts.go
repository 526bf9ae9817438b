package oracle

import (
	"fmt"
	"strings"

	"github.com/tenex-agents/tenex/pkg/models"
)

// maxPromptHistory bounds how many history events a prompt includes.
const maxPromptHistory = 20

// routingSystemPrompt frames every routing decision.
const routingSystemPrompt = `You are the routing coordinator for a team of software agents working on one project.
Conversations move through five phases: chat, plan, execute, review, chores.
Always answer with a single JSON object and nothing else.`

// rosterSection renders the agent roster for prompt inclusion.
func rosterSection(roster models.Roster) string {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range roster.All() {
		fmt.Fprintf(&b, "- %s (pubkey %s): %s", a.Name, a.Pubkey, a.Role)
		if len(a.Expertise) > 0 {
			fmt.Fprintf(&b, " [expertise: %s]", strings.Join(a.Expertise, ", "))
		}
		if a.Description != "" {
			fmt.Fprintf(&b, ": %s", a.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// historySection renders recent conversation history for prompt inclusion.
func historySection(conv *models.Conversation) string {
	if conv == nil {
		return ""
	}

	var b strings.Builder
	if conv.Metadata.ContextSummary != "" {
		b.WriteString(conv.Metadata.ContextSummary)
		b.WriteByte('\n')
	}

	history := conv.History
	if len(history) > maxPromptHistory {
		history = history[len(history)-maxPromptHistory:]
	}
	for _, ev := range history {
		fmt.Fprintf(&b, "[%s] %s\n", shortKey(ev.Pubkey), ev.Content)
	}
	return b.String()
}

func shortKey(pubkey string) string {
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	return pubkey
}

// newConversationPrompt asks for an initial phase and optional agent.
func newConversationPrompt(event models.Event, roster models.Roster, projectContext string) string {
	var b strings.Builder
	b.WriteString("A new conversation has started with this message:\n\n")
	b.WriteString(event.Content)
	b.WriteString("\n\n")
	b.WriteString(rosterSection(roster))
	if projectContext != "" {
		fmt.Fprintf(&b, "\nProject context:\n%s\n", projectContext)
	}
	b.WriteString(`
Decide the starting phase and, if a specific agent should respond, which one.
First contact almost always starts in chat unless the message is an unambiguous
work order. Respond with JSON:
{"phase": "chat|plan|execute|review|chores", "agent": "<pubkey or empty>", "confidence": 0.0-1.0, "reasoning": "<why>"}`)
	return b.String()
}

// selectAgentPrompt asks for the next speaker within the current phase.
func selectAgentPrompt(conv *models.Conversation, event models.Event, roster models.Roster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The conversation %q is in the %s phase.\n\n", conv.Title, conv.Phase)
	b.WriteString(historySection(conv))
	fmt.Fprintf(&b, "\nLatest message:\n%s\n\n", event.Content)
	b.WriteString(rosterSection(roster))
	b.WriteString(`
Choose the single best agent to respond next. Respond with JSON:
{"agent": "<pubkey>", "confidence": 0.0-1.0, "reasoning": "<why>"}`)
	return b.String()
}

// phaseTransitionPrompt asks whether the conversation should change phase.
func phaseTransitionPrompt(conv *models.Conversation, event models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The conversation %q is in the %s phase.\n\n", conv.Title, conv.Phase)
	b.WriteString(historySection(conv))
	fmt.Fprintf(&b, "\nLatest message:\n%s\n\n", event.Content)
	if conv.Metadata.PlanSummary != "" {
		b.WriteString("A plan summary exists.\n")
	}
	if conv.Metadata.PlanApproved {
		b.WriteString("The plan has been approved.\n")
	}
	if conv.Metadata.ExecuteSummary != "" {
		b.WriteString("An implementation summary exists.\n")
	}
	b.WriteString(`
Should the conversation move to a different phase? Valid moves: chat->plan,
plan->execute, plan->chat, execute->review, execute->plan, review->execute,
review->chores, review->chat, chores->chat, any->chat. Respond with JSON:
{"should_transition": true|false, "target_phase": "<phase or empty>", "conditions": "<what makes this valid>", "confidence": 0.0-1.0, "reasoning": "<why>"}`)
	return b.String()
}

// fallbackRoutePrompt is used when the normal routing path itself errored.
func fallbackRoutePrompt(conv *models.Conversation, event models.Event, roster models.Roster) string {
	var b strings.Builder
	b.WriteString("Normal routing failed for this message; pick a safe agent and phase.\n\n")
	if conv != nil {
		fmt.Fprintf(&b, "Conversation %q is in phase %s.\n", conv.Title, conv.Phase)
	}
	fmt.Fprintf(&b, "Message:\n%s\n\n", event.Content)
	b.WriteString(rosterSection(roster))
	b.WriteString(`
Respond with JSON:
{"phase": "<phase>", "agent": "<pubkey>", "confidence": 0.0-1.0, "reasoning": "<why>"}`)
	return b.String()
}
