// Package oracle wraps the LLM completion capability to produce structured
// routing decisions. Every method makes exactly one completion call, parses
// the response defensively, and falls back to a fixed safe decision on any
// parse or validation failure: routing is never blocked by a malformed
// model response.
package oracle

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/llm"
	"github.com/tenex-agents/tenex/pkg/models"
)

// Oracle produces routing decisions from the completion capability.
type Oracle struct {
	completer llm.Completer
	logger    *zap.Logger
}

// New creates an Oracle over the given completer.
func New(completer llm.Completer, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		completer: completer,
		logger:    logger.With(zap.String("component", "routing_oracle")),
	}
}

// complete runs one completion and extracts the JSON payload. The second
// return value is false on any failure; the caller substitutes its fallback.
func (o *Oracle) complete(ctx context.Context, kind, prompt string) (map[string]json.RawMessage, bool) {
	resp, err := o.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: routingSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		o.logger.Warn("completion failed, using fallback decision",
			zap.String("decision", kind),
			zap.Error(err),
		)
		return nil, false
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		o.logger.Warn("no JSON in completion, using fallback decision",
			zap.String("decision", kind),
			zap.Error(err),
		)
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		o.logger.Warn("malformed JSON in completion, using fallback decision",
			zap.String("decision", kind),
			zap.Error(err),
		)
		return nil, false
	}

	return fields, true
}

// stringField decodes a string field, tolerating absence.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// boolField decodes a bool field, tolerating absence.
func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// confidenceField decodes and clamps a confidence field.
func confidenceField(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return 0.5
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0.5
	}
	return ClampConfidence(v)
}

// phaseField decodes a phase field, coercing unknown values to chat with a
// logged warning.
func (o *Oracle) phaseField(fields map[string]json.RawMessage, key, kind string) models.Phase {
	s := stringField(fields, key)
	if s == "" {
		return models.PhaseChat
	}
	p, ok := models.ParsePhase(s)
	if !ok {
		o.logger.Warn("unknown phase in decision, coercing to chat",
			zap.String("decision", kind),
			zap.String("phase", s),
		)
	}
	return p
}

// RouteNewConversation decides the starting phase and optional responder for
// a brand new conversation.
func (o *Oracle) RouteNewConversation(ctx context.Context, event models.Event, roster models.Roster, projectContext string) models.RoutingDecision {
	fallback := models.RoutingDecision{
		Phase:      models.PhaseChat,
		Confidence: 0.5,
		Reasoning:  "fallback: could not obtain a routing decision",
		Fallback:   true,
	}

	fields, ok := o.complete(ctx, "route_new_conversation", newConversationPrompt(event, roster, projectContext))
	if !ok {
		return fallback
	}

	decision := models.RoutingDecision{
		Phase:      o.phaseField(fields, "phase", "route_new_conversation"),
		Confidence: confidenceField(fields, "confidence"),
		Reasoning:  stringField(fields, "reasoning"),
	}

	if ref := stringField(fields, "agent"); ref != "" {
		agent, found := roster.Resolve(ref)
		if !found {
			// Unresolvable agent fails the decision closed.
			o.logger.Warn("decision references unknown agent, failing closed",
				zap.String("decision", "route_new_conversation"),
				zap.String("agent", ref),
			)
			return fallback
		}
		decision.NextAgent = agent.Pubkey
	}

	return decision
}

// SelectAgent chooses the next speaker within the current phase.
func (o *Oracle) SelectAgent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.AgentSelectionDecision {
	fallback := models.AgentSelectionDecision{
		Confidence: 0.5,
		Reasoning:  "fallback: first available agent",
		Fallback:   true,
	}
	if first, ok := roster.First(); ok {
		fallback.Agent = first.Pubkey
	}

	fields, ok := o.complete(ctx, "select_agent", selectAgentPrompt(conv, event, roster))
	if !ok {
		return fallback
	}

	ref := stringField(fields, "agent")
	agent, found := roster.Resolve(ref)
	if ref == "" || !found {
		o.logger.Warn("agent selection unresolvable, falling back to first agent",
			zap.String("agent", ref),
		)
		return fallback
	}

	return models.AgentSelectionDecision{
		Agent:      agent.Pubkey,
		Confidence: confidenceField(fields, "confidence"),
		Reasoning:  stringField(fields, "reasoning"),
	}
}

// DeterminePhaseTransition decides whether the conversation should move to
// another phase, and to which one.
func (o *Oracle) DeterminePhaseTransition(ctx context.Context, conv *models.Conversation, event models.Event) models.PhaseTransitionDecision {
	fallback := models.PhaseTransitionDecision{
		ShouldTransition: false,
		Confidence:       0,
		Reasoning:        "fallback: staying in current phase",
		Fallback:         true,
	}

	fields, ok := o.complete(ctx, "phase_transition", phaseTransitionPrompt(conv, event))
	if !ok {
		return fallback
	}

	decision := models.PhaseTransitionDecision{
		ShouldTransition: boolField(fields, "should_transition"),
		Conditions:       stringField(fields, "conditions"),
		Confidence:       confidenceField(fields, "confidence"),
		Reasoning:        stringField(fields, "reasoning"),
	}

	if decision.ShouldTransition {
		target := stringField(fields, "target_phase")
		p, known := models.ParsePhase(target)
		if target == "" || !known {
			o.logger.Warn("transition target unknown, coercing to chat",
				zap.String("target", target),
			)
		}
		decision.TargetPhase = p
	}

	return decision
}

// FallbackRoute selects an agent and phase when the normal routing path
// itself errored. The result is always flagged uncertain.
func (o *Oracle) FallbackRoute(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.FallbackRoutingDecision {
	fallback := models.FallbackRoutingDecision{
		Phase:      models.PhaseChat,
		Confidence: 0.3,
		Reasoning:  "fallback: routing unavailable",
		Uncertain:  true,
	}
	if first, ok := roster.First(); ok {
		fallback.Agent = first.Pubkey
	}

	fields, ok := o.complete(ctx, "fallback_route", fallbackRoutePrompt(conv, event, roster))
	if !ok {
		return fallback
	}

	decision := models.FallbackRoutingDecision{
		Phase:      o.phaseField(fields, "phase", "fallback_route"),
		Confidence: confidenceField(fields, "confidence"),
		Reasoning:  stringField(fields, "reasoning"),
		Uncertain:  true,
	}

	if ref := stringField(fields, "agent"); ref != "" {
		if agent, found := roster.Resolve(ref); found {
			decision.Agent = agent.Pubkey
		}
	}
	if decision.Agent == "" {
		if first, ok := roster.First(); ok {
			decision.Agent = first.Pubkey
		}
	}

	return decision
}
