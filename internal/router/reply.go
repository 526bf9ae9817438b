package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/nostr"
	"github.com/tenex-agents/tenex/internal/policy"
	"github.com/tenex-agents/tenex/internal/store"
	"github.com/tenex-agents/tenex/internal/team"
	"github.com/tenex-agents/tenex/pkg/models"
)

// transitionConfidence is the minimum confidence for acting on an
// LLM-proposed phase transition in the reply pipeline.
const transitionConfidence = 0.7

// replyState carries one reply through the handler pipeline.
type replyState struct {
	conv   *models.Conversation
	event  models.Event
	roster models.Roster
}

// replyHandler is one stage of the reply pipeline. Exactly one handler
// claims each event; an unclaimed event after the full pipeline is a
// routing gap.
type replyHandler struct {
	name   string
	handle func(ctx context.Context, st *replyState) (claimed bool, err error)
}

// RouteReply routes a reply event into its conversation. Every reply and
// root reference is tried in order, so a reply threaded onto one of the
// router's own published replies still resolves through its root tag.
// Replies that resolve to no known conversation are dropped with a log line;
// everything else is appended and run through the pipeline under the
// conversation lock.
func (r *Router) RouteReply(ctx context.Context, event models.Event, roster models.Roster) {
	refs := event.ReplyReferences()
	if len(refs) == 0 {
		r.logger.Warn("reply without parent reference dropped",
			zap.String("event", event.ID),
		)
		return
	}

	var conv *models.Conversation
	for _, ref := range refs {
		c, err := r.store.GetConversationByEvent(ref)
		if err == nil {
			conv = c
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("reply resolution failed",
				zap.String("event", event.ID),
				zap.String("parent", ref),
				zap.Error(err),
			)
			return
		}
	}
	if conv == nil {
		r.logger.Warn("reply to unknown conversation dropped",
			zap.String("event", event.ID),
			zap.Strings("parents", refs),
		)
		return
	}

	lockErr := r.store.WithConversation(conv.ID, func() error {
		if err := r.store.AddEvent(conv.ID, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		fresh, err := r.store.GetConversation(conv.ID)
		if err != nil {
			return fmt.Errorf("reload conversation: %w", err)
		}

		st := &replyState{conv: fresh, event: event, roster: roster}
		for _, h := range r.replyPipeline() {
			claimed, err := h.handle(ctx, st)
			if err != nil {
				r.logger.Error("reply handler failed",
					zap.String("conversation", st.conv.ID),
					zap.String("handler", h.name),
					zap.Error(err),
				)
				r.fallbackRespond(ctx, st)
				return nil
			}
			if claimed {
				r.logger.Debug("reply claimed",
					zap.String("conversation", st.conv.ID),
					zap.String("handler", h.name),
				)
				return nil
			}
		}

		// The terminal handler claims everything; reaching here means the
		// pipeline has a hole.
		r.logger.Error("routing gap: no handler claimed reply",
			zap.String("conversation", st.conv.ID),
			zap.String("event", event.ID),
		)
		r.fallbackRespond(ctx, st)
		return nil
	})
	if lockErr != nil {
		r.logger.Error("reply routing failed",
			zap.String("event", event.ID),
			zap.String("conversation", conv.ID),
			zap.Error(lockErr),
		)
		r.publish(ctx, nostr.NewReply(r.pubkey, troubleMessage, event))
	}
}

// replyPipeline is the fixed handler chain, most specific first.
func (r *Router) replyPipeline() []replyHandler {
	return []replyHandler{
		{name: "phase_tag", handle: r.handlePhaseTag},
		{name: "llm_transition", handle: r.handleLLMTransition},
		{name: "chat", handle: r.handleChat},
		{name: "agent_routing", handle: r.handleAgentRouting},
	}
}

// handlePhaseTag acts on an explicit phase tag in the event: the sender
// demanded a phase. The demand claims the event even when the move is
// refused; the refusal is the response.
func (r *Router) handlePhaseTag(ctx context.Context, st *replyState) (bool, error) {
	target, ok := st.event.PhaseTag()
	if !ok || target == st.conv.Phase {
		return false, nil
	}

	done, reason, err := r.executeTransition(ctx, st, target)
	if err != nil {
		return false, err
	}
	if !done {
		r.publish(ctx, nostr.NewReply(r.pubkey,
			fmt.Sprintf("Cannot move to %s: %s", target, reason), st.event))
	}
	return true, nil
}

// handleLLMTransition consults the oracle about a phase change. Low
// confidence or unmet gates leave the event unclaimed so later handlers
// route it within the current phase.
func (r *Router) handleLLMTransition(ctx context.Context, st *replyState) (bool, error) {
	decision := r.oracle.DeterminePhaseTransition(ctx, st.conv, st.event)
	if !decision.ShouldTransition || decision.TargetPhase == st.conv.Phase {
		return false, nil
	}
	if decision.Confidence < transitionConfidence {
		r.logger.Debug("transition below confidence threshold",
			zap.String("conversation", st.conv.ID),
			zap.String("target", string(decision.TargetPhase)),
			zap.Float64("confidence", decision.Confidence),
		)
		return false, nil
	}

	done, reason, err := r.executeTransition(ctx, st, decision.TargetPhase)
	if err != nil {
		return false, err
	}
	if !done {
		r.logger.Info("proposed transition refused",
			zap.String("conversation", st.conv.ID),
			zap.String("target", string(decision.TargetPhase)),
			zap.String("reason", reason),
		)
		return false, nil
	}
	return true, nil
}

// handleChat routes replies within the chat phase: pick a responder
// per-message and respond.
func (r *Router) handleChat(ctx context.Context, st *replyState) (bool, error) {
	if st.conv.Phase != models.PhaseChat {
		return false, nil
	}
	if err := r.routeToAgent(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

// handleAgentRouting is the terminal handler: route to the phase's
// responsible agent, selecting one when none is set.
func (r *Router) handleAgentRouting(ctx context.Context, st *replyState) (bool, error) {
	if err := r.routeToAgent(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

// routeToAgent determines the responding agent for the event and responds.
// The conversation's current agent is kept when it is still in the roster;
// otherwise the oracle selects one.
func (r *Router) routeToAgent(ctx context.Context, st *replyState) error {
	agent := st.conv.CurrentAgent
	if _, ok := st.roster.Get(agent); !ok || st.conv.Phase == models.PhaseChat {
		selection := r.oracle.SelectAgent(ctx, st.conv, st.event, st.roster)
		agent = selection.Agent
	}
	if agent == "" {
		return fmt.Errorf("no agent available for conversation %s", st.conv.ID)
	}
	if err := r.store.UpdateCurrentAgent(st.conv.ID, agent); err != nil {
		return err
	}

	r.respondVia(ctx, st, agent)
	return nil
}

// respondVia produces the response for a routed reply: through the team
// strategy when one applies, otherwise a routed acknowledgement mentioning
// the chosen agent so its process picks the message up.
func (r *Router) respondVia(ctx context.Context, st *replyState, agent string) {
	if r.coordinator != nil && r.strategies != nil {
		if _, isUser := st.roster.Get(st.event.Pubkey); !isUser {
			t, err := r.coordinator.HandleUserEvent(ctx, st.conv, st.event, st.roster)
			if err == nil && t != nil {
				outcome, err := r.strategies.Execute(ctx, t, st.conv, st.event, st.roster)
				if err == nil {
					r.publish(ctx, nostr.NewReply(t.Lead, outcome.Content, st.event))
					return
				}
				r.logger.Error("strategy execution failed",
					zap.String("conversation", st.conv.ID),
					zap.String("team", t.ID),
					zap.Error(err),
				)
			} else if err != nil {
				if errors.Is(err, team.ErrTeamFormation) {
					r.logger.Error("team formation failed, failing routing pass",
						zap.String("conversation", st.conv.ID),
						zap.Error(err),
					)
					r.publish(ctx, nostr.NewReply(r.pubkey, troubleMessage, st.event))
					return
				}
				r.logger.Warn("team unavailable for reply",
					zap.String("conversation", st.conv.ID),
					zap.Error(err),
				)
			}
		}
	}

	reply := nostr.NewReply(r.pubkey, fmt.Sprintf("Routed to agent for %s phase.", st.conv.Phase), st.event)
	reply.Tags = append(reply.Tags, []string{models.TagMention, agent})
	r.publish(ctx, reply)
}

// executeTransition performs a phase change: adjacency and gate checks,
// history compaction, phase initialization, persistence, and announcement.
// A refused move returns done=false with the reason.
func (r *Router) executeTransition(ctx context.Context, st *replyState, target models.Phase) (bool, string, error) {
	if !policy.CanTransition(st.conv.Phase, target) {
		return false, fmt.Sprintf("no transition path %s -> %s", st.conv.Phase, target), nil
	}
	crit := r.policy.MeetsTransitionCriteria(st.conv, st.roster, target)
	if !crit.CanTransition {
		return false, crit.Reason, nil
	}

	from := st.conv.Phase
	if _, err := r.store.CompactHistory(st.conv.ID, target); err != nil {
		return false, "", fmt.Errorf("compact history: %w", err)
	}

	fresh, err := r.store.GetConversation(st.conv.ID)
	if err != nil {
		return false, "", fmt.Errorf("reload conversation: %w", err)
	}
	st.conv = fresh

	result := r.phases.Initialize(ctx, target, st.conv, st.roster)
	if err := r.persistInit(st.conv.ID, target, "", result); err != nil {
		return false, "", err
	}

	r.logger.Info("phase transition",
		zap.String("conversation", st.conv.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Bool("init_success", result.Success),
	)

	r.publish(ctx, nostr.NewPhaseTransition(r.pubkey, st.conv.ID, from, target))
	r.respond(ctx, st.conv, st.event, st.roster, result)
	return true, "", nil
}

// fallbackRespond is the last resort after a pipeline error: ask the oracle
// for a safe route, assign the agent, and answer. The sender never goes
// unanswered.
func (r *Router) fallbackRespond(ctx context.Context, st *replyState) {
	fd := r.oracle.FallbackRoute(ctx, st.conv, st.event, st.roster)
	r.logger.Warn("using fallback route",
		zap.String("conversation", st.conv.ID),
		zap.String("agent", fd.Agent),
		zap.String("phase", string(fd.Phase)),
		zap.Bool("uncertain", fd.Uncertain),
	)

	if fd.Agent != "" {
		if err := r.store.UpdateCurrentAgent(st.conv.ID, fd.Agent); err != nil {
			r.logger.Error("fallback agent persist failed",
				zap.String("conversation", st.conv.ID),
				zap.Error(err),
			)
		}
	}

	reply := nostr.NewReply(r.pubkey, troubleMessage, st.event)
	if fd.Agent != "" {
		reply.Tags = append(reply.Tags, []string{models.TagMention, fd.Agent})
	}
	r.publish(ctx, reply)
}
