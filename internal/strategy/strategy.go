// Package strategy executes a team's collaboration pattern to produce one
// response. The lead's final synthesis decides success; individual member
// failures are tolerated and reported as gaps in the contribution set.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tenex-agents/tenex/pkg/models"
)

// Request is one agent invocation within a strategy run.
type Request struct {
	// Agent is the responding agent.
	Agent models.Agent
	// Conversation supplies history and artifacts for context.
	Conversation *models.Conversation
	// Prompt is the instruction for this invocation.
	Prompt string
}

// Responder produces one agent response. Implementations bind an agent's
// configured model and persona to the completion capability.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, req Request) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Outcome is the result of executing a team strategy.
type Outcome struct {
	// Content is the lead's final response.
	Content string
	// Contributions maps member pubkey to their raw contribution.
	// Members that failed are absent.
	Contributions map[string]string
	// Failed lists the pubkeys of members whose contribution failed.
	Failed []string
	// Strategy is the pattern that produced this outcome.
	Strategy models.Strategy
}

// maxParallelAgents bounds concurrent member invocations.
const maxParallelAgents = 4

// Executor runs team strategies against the agent-response capability.
type Executor struct {
	responder Responder
	logger    *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(responder Responder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		responder: responder,
		logger:    logger.With(zap.String("component", "strategy_executor")),
	}
}

// Execute runs the team's strategy for the triggering event. The returned
// error reflects only lead-path failure; member failures are folded into the
// outcome.
func (e *Executor) Execute(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*Outcome, error) {
	if err := team.Validate(); err != nil {
		return nil, fmt.Errorf("execute strategy: %w", err)
	}

	var (
		outcome *Outcome
		err     error
	)
	switch team.Strategy {
	case models.StrategyHierarchical:
		outcome, err = e.hierarchical(ctx, team, conv, event, roster)
	case models.StrategyParallelExecution:
		outcome, err = e.parallel(ctx, team, conv, event, roster)
	case models.StrategyPhasedDelivery:
		outcome, err = e.phased(ctx, team, conv, event, roster)
	default:
		outcome, err = e.singleResponder(ctx, team, conv, event, roster)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("strategy executed",
		zap.String("conversation", conv.ID),
		zap.String("team", team.ID),
		zap.String("strategy", string(outcome.Strategy)),
		zap.Int("contributions", len(outcome.Contributions)),
		zap.Int("failed", len(outcome.Failed)),
	)
	return outcome, nil
}

// singleResponder has the lead reply alone.
func (e *Executor) singleResponder(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*Outcome, error) {
	lead, ok := roster.Get(team.Lead)
	if !ok {
		return nil, fmt.Errorf("lead %s is not in the roster", team.Lead)
	}

	content, err := e.responder.Respond(ctx, Request{
		Agent:        lead,
		Conversation: conv,
		Prompt:       taskPrompt(team, event, "Respond to the request directly."),
	})
	if err != nil {
		return nil, fmt.Errorf("lead response: %w", err)
	}

	return &Outcome{
		Content:       content,
		Contributions: map[string]string{team.Lead: content},
		Strategy:      models.StrategySingleResponder,
	}, nil
}

// hierarchical has the lead delegate to each member in turn and synthesize
// the results. Member failures leave gaps; synthesis failure fails the run.
func (e *Executor) hierarchical(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*Outcome, error) {
	lead, ok := roster.Get(team.Lead)
	if !ok {
		return nil, fmt.Errorf("lead %s is not in the roster", team.Lead)
	}

	contributions := map[string]string{}
	var failed []string
	for _, pk := range team.NonLeadMembers() {
		member, ok := roster.Get(pk)
		if !ok {
			failed = append(failed, pk)
			continue
		}
		content, err := e.responder.Respond(ctx, Request{
			Agent:        member,
			Conversation: conv,
			Prompt:       taskPrompt(team, event, fmt.Sprintf("Contribute your part as %s.", member.Role)),
		})
		if err != nil {
			e.logger.Warn("member contribution failed",
				zap.String("team", team.ID),
				zap.String("member", pk),
				zap.Error(err),
			)
			failed = append(failed, pk)
			continue
		}
		contributions[pk] = content
	}

	final, err := e.synthesize(ctx, lead, team, conv, event, contributions, failed)
	if err != nil {
		return nil, err
	}
	contributions[team.Lead] = final

	return &Outcome{
		Content:       final,
		Contributions: contributions,
		Failed:        failed,
		Strategy:      models.StrategyHierarchical,
	}, nil
}

// parallel fans the non-lead members out concurrently and has the lead
// synthesize whatever came back.
func (e *Executor) parallel(ctx context.Context, team *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*Outcome, error) {
	lead, ok := roster.Get(team.Lead)
	if !ok {
		return nil, fmt.Errorf("lead %s is not in the roster", team.Lead)
	}

	var (
		mu            sync.Mutex
		contributions = map[string]string{}
		failed        []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelAgents)
	for _, pk := range team.NonLeadMembers() {
		member, ok := roster.Get(pk)
		if !ok {
			mu.Lock()
			failed = append(failed, pk)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			content, err := e.responder.Respond(gctx, Request{
				Agent:        member,
				Conversation: conv,
				Prompt:       taskPrompt(team, event, fmt.Sprintf("Contribute your part as %s.", member.Role)),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("member contribution failed",
					zap.String("team", team.ID),
					zap.String("member", member.Pubkey),
					zap.Error(err),
				)
				failed = append(failed, member.Pubkey)
				return nil
			}
			contributions[member.Pubkey] = content
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final, err := e.synthesize(ctx, lead, team, conv, event, contributions, failed)
	if err != nil {
		return nil, err
	}
	contributions[team.Lead] = final

	return &Outcome{
		Content:       final,
		Contributions: contributions,
		Failed:        failed,
		Strategy:      models.StrategyParallelExecution,
	}, nil
}

// synthesize asks the lead to fold member contributions into one response.
func (e *Executor) synthesize(ctx context.Context, lead models.Agent, team *models.Team, conv *models.Conversation, event models.Event, contributions map[string]string, failed []string) (string, error) {
	var b strings.Builder
	b.WriteString("Synthesize your team's contributions into one final response.\n\n")
	for pk, content := range contributions {
		fmt.Fprintf(&b, "Contribution from %s:\n%s\n\n", pk, content)
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "No contribution arrived from: %s. Cover the gaps yourself.\n\n", strings.Join(failed, ", "))
	}
	b.WriteString(taskPrompt(team, event, ""))

	final, err := e.responder.Respond(ctx, Request{
		Agent:        lead,
		Conversation: conv,
		Prompt:       b.String(),
	})
	if err != nil {
		return "", fmt.Errorf("lead synthesis: %w", err)
	}
	return final, nil
}

// taskPrompt frames the triggering request and the team's task definition.
func taskPrompt(team *models.Team, event models.Event, instruction string) string {
	var b strings.Builder
	if instruction != "" {
		b.WriteString(instruction)
		b.WriteString("\n\n")
	}
	b.WriteString("Request:\n")
	b.WriteString(event.Content)
	b.WriteByte('\n')
	if td := team.TaskDefinition; td != nil {
		fmt.Fprintf(&b, "\nTask: %s\n", td.Description)
		if td.SuccessCriteria != "" {
			fmt.Fprintf(&b, "Success criteria: %s\n", td.SuccessCriteria)
		}
	}
	return b.String()
}
