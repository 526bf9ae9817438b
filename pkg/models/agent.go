package models

import "strings"

// Agent represents a participant capable of generating responses.
// The roster is supplied per routing pass by an external registry; this
// core only references agents by pubkey.
type Agent struct {
	// Pubkey is the agent's transport identity.
	Pubkey string `json:"pubkey" yaml:"pubkey"`
	// Name is the agent's display name.
	Name string `json:"name" yaml:"name"`
	// Role is a free-text role description (e.g. "Senior Backend Developer").
	Role string `json:"role" yaml:"role"`
	// Description is free text used for capability matching.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Expertise lists capability keywords used for matching.
	Expertise []string `json:"expertise,omitempty" yaml:"expertise,omitempty"`
	// LLMConfig names the model configuration this agent uses.
	LLMConfig string `json:"llm_config,omitempty" yaml:"llm_config,omitempty"`
	// Tools lists the capabilities available to this agent.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// MatchesKeyword reports whether the keyword appears in the agent's role,
// name, description, or expertise, case-insensitively.
func (a Agent) MatchesKeyword(keyword string) bool {
	kw := strings.ToLower(keyword)
	if strings.Contains(strings.ToLower(a.Role), kw) ||
		strings.Contains(strings.ToLower(a.Name), kw) ||
		strings.Contains(strings.ToLower(a.Description), kw) {
		return true
	}
	for _, e := range a.Expertise {
		if strings.Contains(strings.ToLower(e), kw) {
			return true
		}
	}
	return false
}

// Roster is an immutable snapshot of the available agents for one routing
// pass, keyed by pubkey. Runtime roster changes become visible only on the
// next inbound event.
type Roster struct {
	agents map[string]Agent
	order  []string
}

// NewRoster builds a roster snapshot. Agent order is preserved so that
// "first available agent" fallbacks are deterministic.
func NewRoster(agents []Agent) Roster {
	m := make(map[string]Agent, len(agents))
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		if _, dup := m[a.Pubkey]; dup {
			continue
		}
		m[a.Pubkey] = a
		order = append(order, a.Pubkey)
	}
	return Roster{agents: m, order: order}
}

// Get returns the agent with the given pubkey.
func (r Roster) Get(pubkey string) (Agent, bool) {
	a, ok := r.agents[pubkey]
	return a, ok
}

// GetByName returns the agent with the given display name (case-insensitive).
func (r Roster) GetByName(name string) (Agent, bool) {
	for _, pk := range r.order {
		if strings.EqualFold(r.agents[pk].Name, name) {
			return r.agents[pk], true
		}
	}
	return Agent{}, false
}

// Resolve accepts either a pubkey or a display name and returns the agent.
func (r Roster) Resolve(ref string) (Agent, bool) {
	if a, ok := r.Get(ref); ok {
		return a, true
	}
	return r.GetByName(ref)
}

// First returns the first agent in roster order.
func (r Roster) First() (Agent, bool) {
	if len(r.order) == 0 {
		return Agent{}, false
	}
	return r.agents[r.order[0]], true
}

// All returns the agents in roster order.
func (r Roster) All() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, pk := range r.order {
		out = append(out, r.agents[pk])
	}
	return out
}

// Len returns the number of agents in the roster.
func (r Roster) Len() int {
	return len(r.order)
}

// FilterKeyword returns the agents matching any of the given keywords,
// in roster order.
func (r Roster) FilterKeyword(keywords ...string) []Agent {
	var out []Agent
	for _, a := range r.All() {
		for _, kw := range keywords {
			if a.MatchesKeyword(kw) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
