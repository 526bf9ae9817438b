package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tenex-agents/tenex/internal/oracle"
	"github.com/tenex-agents/tenex/pkg/models"
)

// deliveryPhase is one stage of a phased delivery run.
type deliveryPhase struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// defaultPhaseNames is the stage sequence used when the lead does not
// propose one.
var defaultPhaseNames = []string{"design", "implement", "verify", "polish"}

// phased runs the team through sequenced delivery stages: the lead proposes
// the stages, each stage's members work from the accumulated context, the
// lead reviews between stages, and a final integration pass produces the
// response. Only the integration pass can fail the run.
func (e *Executor) phased(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*Outcome, error) {
	lead, ok := roster.Get(team.Lead)
	if !ok {
		return nil, fmt.Errorf("lead %s is not in the roster", team.Lead)
	}

	phases := e.planPhases(ctx, lead, team, conv, event)

	var (
		transcript    strings.Builder
		contributions = map[string]string{}
		failedSet     = map[string]bool{}
	)

	for i, ph := range phases {
		stageOut := e.runStage(ctx, team, conv, event, roster, ph, transcript.String(), contributions, failedSet)
		fmt.Fprintf(&transcript, "== Stage %q ==\n%s\n", ph.Name, stageOut)

		// Review gate between stages. Advisory: a failed review is logged
		// and the delivery continues.
		if i < len(phases)-1 {
			review, err := e.responder.Respond(ctx, Request{
				Agent:        lead,
				Conversation: conv,
				Prompt: fmt.Sprintf(
					"Review the %q stage output below before the next stage begins.\nNote corrections the next stage must apply.\n\n%s",
					ph.Name, stageOut,
				),
			})
			if err != nil {
				e.logger.Warn("stage review failed, continuing",
					zap.String("team", team.ID),
					zap.String("stage", ph.Name),
					zap.Error(err),
				)
				continue
			}
			fmt.Fprintf(&transcript, "== Review of %q ==\n%s\n", ph.Name, review)
		}
	}

	final, err := e.responder.Respond(ctx, Request{
		Agent:        lead,
		Conversation: conv,
		Prompt: fmt.Sprintf(
			"Integrate the staged work below into one final response.\n\n%s\n%s",
			transcript.String(), taskPrompt(team, event, ""),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("final integration: %w", err)
	}
	contributions[team.Lead] = final

	var failed []string
	for pk := range failedSet {
		failed = append(failed, pk)
	}

	return &Outcome{
		Content:       final,
		Contributions: contributions,
		Failed:        failed,
		Strategy:      models.StrategyPhasedDelivery,
	}, nil
}

// runStage executes one stage's members concurrently against the accumulated
// context and returns the stage's combined output.
func (e *Executor) runStage(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster, ph deliveryPhase, priorContext string, contributions map[string]string, failedSet map[string]bool) string {
	var (
		mu      sync.Mutex
		outputs = make([]string, len(ph.Members))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelAgents)
	for i, pk := range ph.Members {
		member, ok := roster.Get(pk)
		if !ok {
			mu.Lock()
			failedSet[pk] = true
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			prompt := fmt.Sprintf("You are working on the %q stage.\n\n%s", ph.Name, taskPrompt(team, event, ""))
			if priorContext != "" {
				prompt += "\nWork so far:\n" + priorContext
			}
			content, err := e.responder.Respond(gctx, Request{
				Agent:        member,
				Conversation: conv,
				Prompt:       prompt,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("stage contribution failed",
					zap.String("team", team.ID),
					zap.String("stage", ph.Name),
					zap.String("member", member.Pubkey),
					zap.Error(err),
				)
				failedSet[member.Pubkey] = true
				return nil
			}
			outputs[i] = content
			contributions[member.Pubkey] = content
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	for _, out := range outputs {
		if out != "" {
			b.WriteString(out)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// planPhases asks the lead to propose delivery stages, falling back to a
// default sequence sized to the team.
func (e *Executor) planPhases(ctx context.Context, lead models.Agent, team *models.Team, conv *models.Conversation, event models.Event) []deliveryPhase {
	resp, err := e.responder.Respond(ctx, Request{
		Agent:        lead,
		Conversation: conv,
		Prompt: taskPrompt(team, event, fmt.Sprintf(
			`Break the work into delivery stages for your team (members: %s).
Respond with JSON: {"phases": [{"name": "...", "members": ["<pubkey>", ...]}, ...]}`,
			strings.Join(team.Members, ", "),
		)),
	})
	if err == nil {
		if phases, ok := parsePhases(resp, team); ok {
			return phases
		}
	}

	e.logger.Debug("using default delivery stages",
		zap.String("team", team.ID),
	)
	return defaultPhases(team)
}

// parsePhases validates a proposed stage plan: stages must be named and only
// reference team members.
func parsePhases(resp string, team *models.Team) ([]deliveryPhase, bool) {
	raw, err := oracle.ExtractJSON(resp)
	if err != nil {
		return nil, false
	}
	var proposal struct {
		Phases []deliveryPhase `json:"phases"`
	}
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil || len(proposal.Phases) == 0 {
		return nil, false
	}

	member := map[string]bool{}
	for _, pk := range team.Members {
		member[pk] = true
	}
	for _, ph := range proposal.Phases {
		if ph.Name == "" || len(ph.Members) == 0 {
			return nil, false
		}
		for _, pk := range ph.Members {
			if !member[pk] {
				return nil, false
			}
		}
	}
	return proposal.Phases, true
}

// defaultPhases builds the fallback stage sequence: up to four stages with
// the non-lead members assigned round-robin, or lead-only stages for a team
// of one.
func defaultPhases(team *models.Team) []deliveryPhase {
	workers := team.NonLeadMembers()
	if len(workers) == 0 {
		workers = []string{team.Lead}
	}

	n := len(defaultPhaseNames)
	if len(workers) < n {
		n = len(workers)
	}
	phases := make([]deliveryPhase, n)
	for i := range phases {
		phases[i] = deliveryPhase{Name: defaultPhaseNames[i]}
	}
	for i, pk := range workers {
		ph := &phases[i%n]
		ph.Members = append(ph.Members, pk)
	}
	return phases
}
