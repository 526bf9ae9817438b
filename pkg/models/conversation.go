package models

import "time"

// Conversation is the unit of a multi-turn interaction between a user and
// one or more agents.
type Conversation struct {
	// ID is derived from the originating event id.
	ID string `json:"id"`
	// Title is a human label for the conversation.
	Title string `json:"title"`
	// Phase is the single active workflow stage. Empty until the first
	// routing decision fires.
	Phase Phase `json:"phase"`
	// History is the ordered, append-only sequence of events bound to this
	// conversation. Insertion order equals arrival order.
	History []Event `json:"history"`
	// CurrentAgent is the pubkey of the agent responsible for the next
	// reply, if any.
	CurrentAgent string `json:"current_agent,omitempty"`
	// Metadata holds phase artifacts. Fields grow monotonically and are
	// never cleared except by explicit history compaction.
	Metadata Metadata `json:"metadata"`
	// CreatedAt is when the conversation was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the conversation was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// UserEventCount returns the number of history events not attributable to
// any agent in the roster, i.e. genuine user messages.
func (c *Conversation) UserEventCount(roster Roster) int {
	n := 0
	for _, ev := range c.History {
		if _, isAgent := roster.Get(ev.Pubkey); !isAgent {
			n++
		}
	}
	return n
}

// PhaseInitRecord captures the outcome of a phase initialization for audit.
type PhaseInitRecord struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	NextAgent string    `json:"next_agent,omitempty"`
	At        time.Time `json:"at"`
}

// Metadata is the structured union of per-phase conversation artifacts.
// It replaces an open string-keyed bag with named fields for everything the
// routing core reads by name; Extra carries anything else.
type Metadata struct {
	// PlanSummary is the plan produced during the plan phase.
	PlanSummary string `json:"plan_summary,omitempty"`
	// PlanApproved records explicit user approval of the plan.
	PlanApproved bool `json:"plan_approved,omitempty"`
	// PlanSessionID is the coding-assistant session that produced the plan.
	PlanSessionID string `json:"plan_session_id,omitempty"`

	// ExecuteSummary is the implementation summary from the execute phase.
	ExecuteSummary string `json:"execute_summary,omitempty"`
	// ExecuteSessionID is the coding-assistant session for the implementation.
	ExecuteSessionID string `json:"execute_session_id,omitempty"`
	// ExecuteBranch is the isolated workspace branch the work landed on.
	ExecuteBranch string `json:"execute_branch,omitempty"`
	// ExecuteFiles lists files the implementation reported as changed.
	ExecuteFiles []string `json:"execute_files,omitempty"`
	// ExecuteCost is the reported cost of the implementation run.
	ExecuteCost float64 `json:"execute_cost,omitempty"`
	// ImplementationComplete marks the execute phase's assistant run as done.
	ImplementationComplete bool `json:"implementation_complete,omitempty"`

	// ReviewSummary is the outcome of the review phase. Advisory only.
	ReviewSummary string `json:"review_summary,omitempty"`
	// Reviewers lists the pubkeys selected for review.
	Reviewers []string `json:"reviewers,omitempty"`

	// Team is the collaboration unit formed for this conversation, if any.
	Team *Team `json:"team,omitempty"`

	// PhaseInits records the initialization result per phase.
	PhaseInits map[Phase]PhaseInitRecord `json:"phase_inits,omitempty"`

	// ContextSummary carries the compacted history across phase transitions.
	ContextSummary string `json:"context_summary,omitempty"`

	// Extra holds open string artifacts not read by the routing core.
	Extra map[string]string `json:"extra,omitempty"`
}

// Merge shallow-merges patch into m. Set fields in patch win; zero-valued
// fields in patch leave m untouched, preserving monotonic growth.
func (m *Metadata) Merge(patch Metadata) {
	if patch.PlanSummary != "" {
		m.PlanSummary = patch.PlanSummary
	}
	if patch.PlanApproved {
		m.PlanApproved = true
	}
	if patch.PlanSessionID != "" {
		m.PlanSessionID = patch.PlanSessionID
	}
	if patch.ExecuteSummary != "" {
		m.ExecuteSummary = patch.ExecuteSummary
	}
	if patch.ExecuteSessionID != "" {
		m.ExecuteSessionID = patch.ExecuteSessionID
	}
	if patch.ExecuteBranch != "" {
		m.ExecuteBranch = patch.ExecuteBranch
	}
	if len(patch.ExecuteFiles) > 0 {
		m.ExecuteFiles = append(m.ExecuteFiles, patch.ExecuteFiles...)
	}
	if patch.ExecuteCost != 0 {
		m.ExecuteCost = patch.ExecuteCost
	}
	if patch.ImplementationComplete {
		m.ImplementationComplete = true
	}
	if patch.ReviewSummary != "" {
		m.ReviewSummary = patch.ReviewSummary
	}
	if len(patch.Reviewers) > 0 {
		m.Reviewers = patch.Reviewers
	}
	if patch.Team != nil {
		m.Team = patch.Team
	}
	if len(patch.PhaseInits) > 0 {
		if m.PhaseInits == nil {
			m.PhaseInits = make(map[Phase]PhaseInitRecord, len(patch.PhaseInits))
		}
		for p, rec := range patch.PhaseInits {
			m.PhaseInits[p] = rec
		}
	}
	if patch.ContextSummary != "" {
		m.ContextSummary = patch.ContextSummary
	}
	if len(patch.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]string, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			m.Extra[k] = v
		}
	}
}
