// Package team forms and manages ephemeral collaboration units. A team is
// created at most once per conversation, from a single combined LLM call
// that analyzes the request and proposes a composition. Formation either
// produces a valid team or fails with ErrTeamFormation; there is no silent
// fallback composition.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/llm"
	"github.com/tenex-agents/tenex/internal/oracle"
	"github.com/tenex-agents/tenex/pkg/models"
)

// ErrTeamFormation marks any failure to form a team. Callers decide whether
// to surface the failure or continue without a team.
var ErrTeamFormation = errors.New("team formation failed")

// FormationEngine proposes and validates team compositions.
type FormationEngine struct {
	completer llm.Completer
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewFormationEngine creates a FormationEngine over the given completer.
func NewFormationEngine(completer llm.Completer, logger *zap.Logger) *FormationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormationEngine{
		completer: completer,
		logger:    logger.With(zap.String("component", "team_formation")),
		now:       time.Now,
		newID: func() string {
			return uuid.New().String()[:8]
		},
	}
}

// formationResponse is the wire shape of the combined analyze-and-form call.
type formationResponse struct {
	Analysis struct {
		RequestType          string   `json:"request_type"`
		RequiredCapabilities []string `json:"required_capabilities"`
		Complexity           int      `json:"complexity"`
		SuggestedStrategy    string   `json:"suggested_strategy"`
	} `json:"analysis"`
	Team struct {
		Lead     string   `json:"lead"`
		Members  []string `json:"members"`
		Strategy string   `json:"strategy"`
	} `json:"team"`
	Task struct {
		Description     string `json:"description"`
		SuccessCriteria string `json:"success_criteria"`
		Complexity      int    `json:"complexity"`
		RequiresReview  bool   `json:"requires_review"`
	} `json:"task"`
	Reasoning string `json:"reasoning"`
}

// AnalyzeAndFormTeam makes one LLM call that analyzes the triggering request
// and proposes a team, then validates the proposal against the roster. Any
// failure returns an error wrapping ErrTeamFormation.
func (e *FormationEngine) AnalyzeAndFormTeam(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) (*models.Team, error) {
	if roster.Len() == 0 {
		return nil, fmt.Errorf("%w: empty roster", ErrTeamFormation)
	}

	resp, err := e.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: formationSystemPrompt},
		{Role: llm.RoleUser, Content: formationPrompt(conv, event, roster)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: completion: %v", ErrTeamFormation, err)
	}

	raw, err := oracle.ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: no JSON in response: %v", ErrTeamFormation, err)
	}

	var proposal formationResponse
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		return nil, fmt.Errorf("%w: malformed proposal: %v", ErrTeamFormation, err)
	}

	team, err := e.buildTeam(conv.ID, proposal, roster)
	if err != nil {
		return nil, err
	}

	e.logger.Info("team formed",
		zap.String("conversation", conv.ID),
		zap.String("team", team.ID),
		zap.String("lead", team.Lead),
		zap.Int("members", len(team.Members)),
		zap.String("strategy", string(team.Strategy)),
	)
	return team, nil
}

// buildTeam validates the proposal against the roster and assembles the team.
func (e *FormationEngine) buildTeam(conversationID string, proposal formationResponse, roster models.Roster) (*models.Team, error) {
	lead, ok := roster.Resolve(proposal.Team.Lead)
	if !ok {
		return nil, fmt.Errorf("%w: proposed lead %q is not in the roster", ErrTeamFormation, proposal.Team.Lead)
	}
	if len(proposal.Team.Members) == 0 {
		return nil, fmt.Errorf("%w: proposal has no members", ErrTeamFormation)
	}

	seen := map[string]bool{}
	var members []string
	for _, ref := range proposal.Team.Members {
		agent, ok := roster.Resolve(ref)
		if !ok {
			return nil, fmt.Errorf("%w: proposed member %q is not in the roster", ErrTeamFormation, ref)
		}
		if !seen[agent.Pubkey] {
			seen[agent.Pubkey] = true
			members = append(members, agent.Pubkey)
		}
	}
	if !seen[lead.Pubkey] {
		members = append(members, lead.Pubkey)
	}

	strategy, known := models.ParseStrategy(proposal.Team.Strategy)
	if !known {
		e.logger.Warn("unknown strategy in proposal, using single_responder",
			zap.String("strategy", proposal.Team.Strategy),
		)
	}

	team := &models.Team{
		ID:             fmt.Sprintf("team-%d-%s", e.now().UnixMilli(), e.newID()),
		ConversationID: conversationID,
		Lead:           lead.Pubkey,
		Members:        members,
		Strategy:       strategy,
		Formation: models.Formation{
			FormedAt:  e.now().UTC(),
			Reasoning: proposal.Reasoning,
			Analysis: models.RequestAnalysis{
				RequestType:          proposal.Analysis.RequestType,
				RequiredCapabilities: proposal.Analysis.RequiredCapabilities,
				Complexity:           proposal.Analysis.Complexity,
				SuggestedStrategy:    proposal.Analysis.SuggestedStrategy,
			},
		},
	}
	if proposal.Task.Description != "" {
		team.TaskDefinition = &models.TaskDefinition{
			Description:     proposal.Task.Description,
			SuccessCriteria: proposal.Task.SuccessCriteria,
			Complexity:      proposal.Task.Complexity,
			RequiresReview:  proposal.Task.RequiresReview,
		}
	}

	if err := team.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTeamFormation, err)
	}
	return team, nil
}

const formationSystemPrompt = `You assemble agent teams for software work.
Analyze the request, pick a lead and members from the available agents, and
choose a collaboration strategy. Always answer with a single JSON object.`

func formationPrompt(conv *models.Conversation, event models.Event, roster models.Roster) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %q needs a team for this request:\n\n%s\n\n", conv.Title, event.Content)

	b.WriteString("Available agents:\n")
	for _, a := range roster.All() {
		fmt.Fprintf(&b, "- %s (pubkey %s): %s", a.Name, a.Pubkey, a.Role)
		if len(a.Expertise) > 0 {
			fmt.Fprintf(&b, " [expertise: %s]", strings.Join(a.Expertise, ", "))
		}
		b.WriteByte('\n')
	}

	b.WriteString(`
Strategies: single_responder (lead replies alone), hierarchical (lead
delegates then synthesizes), parallel_execution (members work concurrently,
lead synthesizes), phased_delivery (sequenced phases with a lead review gate).

Respond with JSON:
{
  "analysis": {"request_type": "...", "required_capabilities": [...], "complexity": 0-10, "suggested_strategy": "..."},
  "team": {"lead": "<pubkey>", "members": ["<pubkey>", ...], "strategy": "<strategy>"},
  "task": {"description": "...", "success_criteria": "...", "complexity": 0-10, "requires_review": true|false},
  "reasoning": "<why this composition>"
}`)
	return b.String()
}
