// Package policy holds the pure decision-refinement rules for conversation
// routing: the phase adjacency table, phase-completion gates, and business
// rules applied on top of LLM decisions. No I/O happens here.
package policy

import (
	"fmt"

	"github.com/tenex-agents/tenex/pkg/models"
)

// minTransitionConfidence is the confidence below which a proposed phase
// change is suppressed and the conversation stays where it is.
const minTransitionConfidence = 0.7

// transitions is the fixed adjacency table. Any phase may additionally
// return to chat.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseChat:    {models.PhasePlan},
	models.PhasePlan:    {models.PhaseExecute, models.PhaseChat},
	models.PhaseExecute: {models.PhaseReview, models.PhasePlan},
	models.PhaseReview:  {models.PhaseExecute, models.PhaseChat, models.PhaseChores},
	models.PhaseChores:  {models.PhaseChat},
}

// Policy evaluates routing decisions against the fixed workflow rules.
type Policy struct {
	// StrictPlanApproval requires metadata.PlanApproved (not just a plan
	// summary) before plan->execute. On by default.
	StrictPlanApproval bool
}

// Default returns the default policy: strict plan approval gating.
func Default() Policy {
	return Policy{StrictPlanApproval: true}
}

// CanTransition reports whether from->to is an edge of the phase graph.
func CanTransition(from, to models.Phase) bool {
	if to == models.PhaseChat && from.Valid() {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Criteria is the outcome of a phase-completion gate check.
type Criteria struct {
	CanTransition bool
	Reason        string
}

// MeetsTransitionCriteria checks the phase-specific completion gates for
// moving the conversation into target. The adjacency table must also hold;
// this checks only the source phase's completion criteria.
func (p Policy) MeetsTransitionCriteria(conv *models.Conversation, roster models.Roster, target models.Phase) Criteria {
	switch target {
	case models.PhaseChat:
		// Chat is reachable from anywhere with no preconditions.
		return Criteria{CanTransition: true}

	case models.PhasePlan:
		if conv.UserEventCount(roster) == 0 {
			return Criteria{Reason: "planning requires at least one user message"}
		}
		return Criteria{CanTransition: true}

	case models.PhaseExecute:
		if conv.Metadata.PlanSummary == "" {
			return Criteria{Reason: "execute requires a plan summary"}
		}
		if p.StrictPlanApproval && !conv.Metadata.PlanApproved {
			return Criteria{Reason: "execute requires plan approval"}
		}
		return Criteria{CanTransition: true}

	case models.PhaseReview:
		if conv.Metadata.ExecuteSummary == "" {
			return Criteria{Reason: "review requires an implementation summary"}
		}
		return Criteria{CanTransition: true}

	case models.PhaseChores:
		// The review summary is advisory only.
		return Criteria{CanTransition: true}

	default:
		return Criteria{Reason: fmt.Sprintf("no valid transition path to %q", target)}
	}
}

// defaultAgentKeywords maps each phase to the role keywords tried when a
// decision arrives without an agent.
var defaultAgentKeywords = map[models.Phase][]string{
	models.PhaseChat:    {"requirements", "analyst"},
	models.PhasePlan:    {"architect"},
	models.PhaseExecute: {"developer", "engineer"},
	models.PhaseReview:  {"review", "quality", "qa"},
	models.PhaseChores:  {"maintainer"},
}

// DefaultAgentForPhase picks a default responder for the phase by keyword
// match over the roster, falling back to the first available agent.
func DefaultAgentForPhase(phase models.Phase, roster models.Roster) (models.Agent, bool) {
	if matches := roster.FilterKeyword(defaultAgentKeywords[phase]...); len(matches) > 0 {
		return matches[0], true
	}
	return roster.First()
}

// ApplyBusinessRules post-processes an LLM routing decision:
//  1. a non-chat phase with no agent gets a default agent by phase keyword,
//  2. a low-confidence phase change is suppressed,
//  3. the review phase prefers a review/quality agent.
func (p Policy) ApplyBusinessRules(decision models.RoutingDecision, conv *models.Conversation, roster models.Roster) models.RoutingDecision {
	out := decision

	if out.Confidence < minTransitionConfidence && conv.Phase != "" && out.Phase != conv.Phase {
		out.Phase = conv.Phase
		out.Reasoning = fmt.Sprintf("low confidence (%.2f); staying in %s. %s", decision.Confidence, conv.Phase, decision.Reasoning)
	}

	if out.Phase == models.PhaseReview && out.NextAgent == "" {
		if matches := roster.FilterKeyword("review", "quality"); len(matches) > 0 {
			out.NextAgent = matches[0].Pubkey
		}
	}

	if out.Phase != models.PhaseChat && out.NextAgent == "" {
		if agent, ok := DefaultAgentForPhase(out.Phase, roster); ok {
			out.NextAgent = agent.Pubkey
		}
	}

	return out
}

// Validation is the outcome of a decision validity check.
type Validation struct {
	Valid  bool
	Reason string
}

// ValidateDecision checks a refined decision for structural validity:
// phase adjacency from the conversation's current phase, agent existence,
// and confidence range. Invalid decisions force the caller back to chat.
func (p Policy) ValidateDecision(decision models.RoutingDecision, conv *models.Conversation, roster models.Roster) Validation {
	if !decision.Phase.Valid() {
		return Validation{Reason: fmt.Sprintf("unknown phase %q", decision.Phase)}
	}

	if conv.Phase != "" && decision.Phase != conv.Phase && !CanTransition(conv.Phase, decision.Phase) {
		return Validation{Reason: fmt.Sprintf("no transition path %s -> %s", conv.Phase, decision.Phase)}
	}

	if decision.NextAgent != "" {
		if _, ok := roster.Get(decision.NextAgent); !ok {
			return Validation{Reason: fmt.Sprintf("unknown agent %q", decision.NextAgent)}
		}
	}

	if decision.Confidence < 0 || decision.Confidence > 1 {
		return Validation{Reason: fmt.Sprintf("confidence %v out of range", decision.Confidence)}
	}

	return Validation{Valid: true}
}
