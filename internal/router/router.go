// Package router is the routing core: it turns inbound events into
// conversation mutations and outbound replies. New conversations get a
// create-decide-initialize pass; replies run through a fixed handler
// pipeline where exactly one handler claims each event. All work for one
// conversation runs under its store lock.
package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/nostr"
	"github.com/tenex-agents/tenex/internal/policy"
	"github.com/tenex-agents/tenex/internal/store"
	"github.com/tenex-agents/tenex/internal/strategy"
	"github.com/tenex-agents/tenex/internal/team"
	"github.com/tenex-agents/tenex/pkg/models"
)

// troubleMessage is the generic reply sent when routing failed internally.
// The sender always gets an answer, even when nothing else worked.
const troubleMessage = "I ran into trouble processing that message. Please try again."

// ConversationStore is the persistence surface the router needs.
// Implemented by the conversation store.
type ConversationStore interface {
	WithConversation(id string, fn func() error) error
	CreateConversation(event models.Event) (*models.Conversation, error)
	GetConversation(id string) (*models.Conversation, error)
	GetConversationByEvent(eventID string) (*models.Conversation, error)
	AddEvent(id string, event models.Event) error
	UpdatePhase(id string, phase models.Phase) error
	UpdateCurrentAgent(id string, pubkey string) error
	UpdateMetadata(id string, patch models.Metadata) error
	CompactHistory(id string, newPhase models.Phase) (string, error)
}

// RoutingOracle is the LLM decision surface the router consults.
type RoutingOracle interface {
	RouteNewConversation(ctx context.Context, event models.Event, roster models.Roster, projectContext string) models.RoutingDecision
	SelectAgent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.AgentSelectionDecision
	DeterminePhaseTransition(ctx context.Context, conv *models.Conversation, event models.Event) models.PhaseTransitionDecision
	FallbackRoute(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.FallbackRoutingDecision
}

// PhaseInitializer prepares a conversation for a phase.
type PhaseInitializer interface {
	Initialize(ctx context.Context, target models.Phase, conv *models.Conversation, roster models.Roster) models.PhaseInitResult
}

// TeamCoordinator supplies the conversation's team, forming one when needed.
type TeamCoordinator interface {
	HandleUserEvent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) (*models.Team, error)
}

// StrategyRunner executes a team's collaboration pattern.
type StrategyRunner interface {
	Execute(ctx context.Context, t *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*strategy.Outcome, error)
}

// Router routes inbound events.
type Router struct {
	store       ConversationStore
	oracle      RoutingOracle
	phases      PhaseInitializer
	policy      policy.Policy
	coordinator TeamCoordinator
	strategies  StrategyRunner
	publisher   nostr.Publisher
	pubkey      string
	projectCtx  string
	logger      *zap.Logger
}

// Config assembles a Router. Coordinator and Strategies are optional; without
// them every response is single-agent.
type Config struct {
	Store          ConversationStore
	Oracle         RoutingOracle
	Phases         PhaseInitializer
	Policy         policy.Policy
	Coordinator    TeamCoordinator
	Strategies     StrategyRunner
	Publisher      nostr.Publisher
	Pubkey         string
	ProjectContext string
	Logger         *zap.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:       cfg.Store,
		oracle:      cfg.Oracle,
		phases:      cfg.Phases,
		policy:      cfg.Policy,
		coordinator: cfg.Coordinator,
		strategies:  cfg.Strategies,
		publisher:   cfg.Publisher,
		pubkey:      cfg.Pubkey,
		projectCtx:  cfg.ProjectContext,
		logger:      logger.With(zap.String("component", "conversation_router")),
	}
}

// Route dispatches an inbound event: events carrying a reply reference go
// through the reply pipeline, everything else starts a new conversation.
func (r *Router) Route(ctx context.Context, event models.Event, roster models.Roster) {
	if event.ReplyTo() != "" {
		r.RouteReply(ctx, event, roster)
		return
	}
	r.RouteNewConversation(ctx, event, roster)
}

// RouteNewConversation creates a conversation for the event, decides its
// starting phase and responder, initializes the phase, and replies. The
// sender always receives a response; internal failures produce a generic one.
func (r *Router) RouteNewConversation(ctx context.Context, event models.Event, roster models.Roster) {
	err := r.store.WithConversation(event.ID, func() error {
		conv, err := r.store.CreateConversation(event)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

		decision := r.oracle.RouteNewConversation(ctx, event, roster, r.projectCtx)
		decision = r.policy.ApplyBusinessRules(decision, conv, roster)
		if v := r.policy.ValidateDecision(decision, conv, roster); !v.Valid {
			r.logger.Warn("routing decision invalid, forcing chat",
				zap.String("conversation", conv.ID),
				zap.String("reason", v.Reason),
			)
			decision = forcedChatDecision(decision.Confidence, "invalid decision corrected: "+v.Reason)
		}
		if decision.Phase != models.PhaseChat {
			// Chat is the only phase without entry preconditions; any other
			// starting phase must pass its completion gate.
			if crit := r.policy.MeetsTransitionCriteria(conv, roster, decision.Phase); !crit.CanTransition {
				r.logger.Warn("starting phase gate unmet, forcing chat",
					zap.String("conversation", conv.ID),
					zap.String("proposed", string(decision.Phase)),
					zap.String("reason", crit.Reason),
				)
				decision = forcedChatDecision(decision.Confidence, "starting phase gate unmet: "+crit.Reason)
			}
		}

		result := r.phases.Initialize(ctx, decision.Phase, conv, roster)
		if err := r.persistInit(conv.ID, decision.Phase, decision.NextAgent, result); err != nil {
			return err
		}

		r.logger.Info("new conversation routed",
			zap.String("conversation", conv.ID),
			zap.String("phase", string(decision.Phase)),
			zap.String("agent", firstNonEmpty(result.NextAgent, decision.NextAgent)),
			zap.Float64("confidence", decision.Confidence),
			zap.Bool("fallback", decision.Fallback),
		)

		conv, err = r.store.GetConversation(conv.ID)
		if err != nil {
			return err
		}
		r.respond(ctx, conv, event, roster, result)
		return nil
	})
	if err != nil {
		r.logger.Error("new conversation routing failed",
			zap.String("event", event.ID),
			zap.Error(err),
		)
		r.publish(ctx, nostr.NewReply(r.pubkey, troubleMessage, event))
	}
}

// forcedChatDecision is the safe default when a routing decision cannot be
// honored.
func forcedChatDecision(confidence float64, reasoning string) models.RoutingDecision {
	return models.RoutingDecision{
		Phase:      models.PhaseChat,
		Confidence: confidence,
		Reasoning:  reasoning,
		Fallback:   true,
	}
}

// persistInit writes the outcome of a routing pass: phase, metadata patch,
// and responsible agent. The phase handler's agent choice wins over the
// routing decision's.
func (r *Router) persistInit(id string, target models.Phase, decidedAgent string, result models.PhaseInitResult) error {
	if err := r.store.UpdatePhase(id, target); err != nil {
		return fmt.Errorf("persist phase: %w", err)
	}
	if err := r.store.UpdateMetadata(id, result.Metadata); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	agent := firstNonEmpty(result.NextAgent, decidedAgent)
	if err := r.store.UpdateCurrentAgent(id, agent); err != nil {
		return fmt.Errorf("persist current agent: %w", err)
	}
	return nil
}

// respond produces the reply for an event: through the team's strategy when
// one exists (or forms), otherwise a plain acknowledgement carrying the
// phase result.
func (r *Router) respond(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster, result models.PhaseInitResult) {
	if r.coordinator != nil && r.strategies != nil {
		t, err := r.coordinator.HandleUserEvent(ctx, conv, event, roster)
		switch {
		case errors.Is(err, team.ErrTeamFormation):
			// No fallback team may be invented; the pass fails for this
			// event and the sender gets the failure reply.
			r.logger.Error("team formation failed, failing routing pass",
				zap.String("conversation", conv.ID),
				zap.Error(err),
			)
			r.publish(ctx, nostr.NewReply(r.pubkey, troubleMessage, event))
			return
		case err != nil:
			r.logger.Error("team lookup failed",
				zap.String("conversation", conv.ID),
				zap.Error(err),
			)
		case t != nil:
			outcome, err := r.strategies.Execute(ctx, t, conv, event, roster)
			if err != nil {
				r.logger.Error("strategy execution failed",
					zap.String("conversation", conv.ID),
					zap.String("team", t.ID),
					zap.Error(err),
				)
				break
			}
			r.publish(ctx, nostr.NewReply(t.Lead, outcome.Content, event))
			return
		}
	}

	content := result.Message
	if content == "" {
		content = troubleMessage
	}
	r.publish(ctx, nostr.NewReply(r.pubkey, content, event))
}

// publish sends an outbound event, logging failures. Publication is
// best-effort; persistence already happened.
func (r *Router) publish(ctx context.Context, event models.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish failed",
			zap.String("event", event.ID),
			zap.Error(err),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ ConversationStore = (*store.Store)(nil)
