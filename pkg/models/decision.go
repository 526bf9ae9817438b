package models

// RoutingDecision is the LLM-derived choice of phase and next responsible
// agent for a new conversation. Transient; folded into conversation state,
// never persisted as-is.
type RoutingDecision struct {
	// Phase is the phase the conversation should start in or move to.
	Phase Phase `json:"phase"`
	// NextAgent is the pubkey of the responsible agent, if one was chosen.
	NextAgent string `json:"next_agent,omitempty"`
	// Confidence is the decision confidence, clamped to [0,1].
	Confidence float64 `json:"confidence"`
	// Reasoning is the LLM's free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
	// Fallback marks decisions produced by the deterministic fallback path.
	Fallback bool `json:"fallback,omitempty"`
}

// AgentSelectionDecision is a phase-local next-speaker choice.
type AgentSelectionDecision struct {
	// Agent is the pubkey of the selected agent.
	Agent string `json:"agent"`
	// Confidence is the decision confidence, clamped to [0,1].
	Confidence float64 `json:"confidence"`
	// Reasoning is the LLM's free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
	// Fallback marks decisions produced by the deterministic fallback path.
	Fallback bool `json:"fallback,omitempty"`
}

// PhaseTransitionDecision is the should-we-move-and-to-where decision.
type PhaseTransitionDecision struct {
	// ShouldTransition reports whether a phase change is proposed.
	ShouldTransition bool `json:"should_transition"`
	// TargetPhase is the proposed destination when ShouldTransition is set.
	TargetPhase Phase `json:"target_phase,omitempty"`
	// Conditions is supporting free text about what makes the move valid.
	Conditions string `json:"conditions,omitempty"`
	// Confidence is the decision confidence, clamped to [0,1].
	Confidence float64 `json:"confidence"`
	// Reasoning is the LLM's free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
	// Fallback marks decisions produced by the deterministic fallback path.
	Fallback bool `json:"fallback,omitempty"`
}

// FallbackRoutingDecision is used when the normal routing path itself
// errors. It always carries an uncertainty flag.
type FallbackRoutingDecision struct {
	// Phase is the safe phase to land in.
	Phase Phase `json:"phase"`
	// Agent is the pubkey of the agent chosen to respond.
	Agent string `json:"agent,omitempty"`
	// Confidence is the decision confidence, clamped to [0,1].
	Confidence float64 `json:"confidence"`
	// Reasoning is the LLM's free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
	// Uncertain is always true for fallback routes.
	Uncertain bool `json:"uncertain"`
}

// PhaseInitResult is the outcome of a phase handler's initialization.
// It is always produced; internal failure is encoded as Success:false,
// never an error escaping the engine boundary.
type PhaseInitResult struct {
	// Success reports whether the phase initialized.
	Success bool `json:"success"`
	// Message carries a human-readable note, mandatory on failure.
	Message string `json:"message,omitempty"`
	// NextAgent is the pubkey assigned to respond, if any.
	NextAgent string `json:"next_agent,omitempty"`
	// AssistantTriggered reports that the external coding assistant was
	// invoked and its output stands in for an agent response.
	AssistantTriggered bool `json:"assistant_triggered,omitempty"`
	// Metadata is the patch to merge into the conversation's metadata.
	Metadata Metadata `json:"metadata,omitempty"`
}
