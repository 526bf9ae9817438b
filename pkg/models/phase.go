package models

// Phase represents the workflow stage a conversation currently occupies.
type Phase string

const (
	// PhaseChat is the default discussion phase with no preconditions.
	PhaseChat Phase = "chat"
	// PhasePlan is the planning phase where an implementation plan is produced.
	PhasePlan Phase = "plan"
	// PhaseExecute is the implementation phase.
	PhaseExecute Phase = "execute"
	// PhaseReview is the review phase following implementation.
	PhaseReview Phase = "review"
	// PhaseChores is the housekeeping phase (inventory updates) before
	// the conversation returns to chat.
	PhaseChores Phase = "chores"
)

// AllPhases lists every phase in workflow order.
var AllPhases = []Phase{PhaseChat, PhasePlan, PhaseExecute, PhaseReview, PhaseChores}

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseChat, PhasePlan, PhaseExecute, PhaseReview, PhaseChores:
		return true
	default:
		return false
	}
}

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// ParsePhase converts a raw string into a Phase. Unknown values fall back
// to chat and return ok=false so callers can log the coercion.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	if p.Valid() {
		return p, true
	}
	return PhaseChat, false
}
