package models

import (
	"fmt"
	"time"
)

// Strategy is the collaboration pattern a team uses to produce a response.
type Strategy string

const (
	// StrategySingleResponder has the lead alone reply.
	StrategySingleResponder Strategy = "single_responder"
	// StrategyHierarchical has the lead delegate to members and synthesize.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyParallelExecution runs all non-lead members concurrently,
	// then the lead synthesizes.
	StrategyParallelExecution Strategy = "parallel_execution"
	// StrategyPhasedDelivery executes a sequence of phases with member
	// subsets, with a lead review gate between phases.
	StrategyPhasedDelivery Strategy = "phased_delivery"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySingleResponder, StrategyHierarchical,
		StrategyParallelExecution, StrategyPhasedDelivery:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a raw string into a Strategy. Unknown values fall
// back to single_responder and return ok=false.
func ParseStrategy(s string) (Strategy, bool) {
	st := Strategy(s)
	if st.Valid() {
		return st, true
	}
	return StrategySingleResponder, false
}

// TaskDefinition describes the work a team was formed to accomplish.
type TaskDefinition struct {
	// Description is what the team should deliver.
	Description string `json:"description"`
	// SuccessCriteria is how completion will be judged.
	SuccessCriteria string `json:"success_criteria,omitempty"`
	// Complexity is the estimated complexity on a 0-10 scale.
	Complexity int `json:"complexity,omitempty"`
	// RequiresReview indicates the deliverable needs a review pass.
	RequiresReview bool `json:"requires_review,omitempty"`
}

// RequestAnalysis is the LLM's analysis of the triggering request.
type RequestAnalysis struct {
	// RequestType categorizes the request (feature, bug, question, ...).
	RequestType string `json:"request_type,omitempty"`
	// RequiredCapabilities lists capabilities the request calls for.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// Complexity is the estimated complexity on a 0-10 scale.
	Complexity int `json:"complexity,omitempty"`
	// SuggestedStrategy is the strategy the analysis recommends.
	SuggestedStrategy string `json:"suggested_strategy,omitempty"`
}

// Formation records how and why a team was assembled.
type Formation struct {
	// FormedAt is when the team was created.
	FormedAt time.Time `json:"formed_at"`
	// Reasoning is the LLM's explanation for the composition.
	Reasoning string `json:"reasoning,omitempty"`
	// Analysis is the request analysis that drove the formation.
	Analysis RequestAnalysis `json:"analysis,omitempty"`
}

// Team is an ephemeral collaboration unit scoped to one conversation.
// Members is never empty and always contains the lead.
type Team struct {
	// ID is a generated team identifier.
	ID string `json:"id"`
	// ConversationID binds the team to its conversation.
	ConversationID string `json:"conversation_id"`
	// Lead is the pubkey of the coordinating agent.
	Lead string `json:"lead"`
	// Members are the pubkeys of all participating agents, lead included.
	Members []string `json:"members"`
	// Strategy is the collaboration pattern for this team.
	Strategy Strategy `json:"strategy"`
	// TaskDefinition describes the team's work, when provided.
	TaskDefinition *TaskDefinition `json:"task_definition,omitempty"`
	// Formation records the circumstances of the team's creation.
	Formation Formation `json:"formation"`
}

// Validate checks the team invariants: non-empty members and lead membership.
func (t *Team) Validate() error {
	if t.Lead == "" {
		return fmt.Errorf("team %s: lead is empty", t.ID)
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("team %s: members is empty", t.ID)
	}
	for _, m := range t.Members {
		if m == t.Lead {
			return nil
		}
	}
	return fmt.Errorf("team %s: lead %s is not a member", t.ID, t.Lead)
}

// NonLeadMembers returns the members excluding the lead.
func (t *Team) NonLeadMembers() []string {
	out := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		if m != t.Lead {
			out = append(out, m)
		}
	}
	return out
}
