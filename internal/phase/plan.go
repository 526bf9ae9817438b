package phase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// planTimeout bounds a planning run of the coding assistant.
const planTimeout = 5 * time.Minute

// planHandler produces a plan, preferring the coding assistant and falling
// back to a planner agent from the roster.
type planHandler struct {
	assistant   CodingAssistant
	projectPath string
	timeout     time.Duration
	logger      *zap.Logger
}

func newPlanHandler(deps Deps) *planHandler {
	timeout := deps.PlanTimeout
	if timeout == 0 {
		timeout = planTimeout
	}
	return &planHandler{
		assistant:   deps.Assistant,
		projectPath: deps.ProjectPath,
		timeout:     timeout,
		logger:      deps.Logger.With(zap.String("phase", "plan")),
	}
}

func (h *planHandler) Phase() models.Phase { return models.PhasePlan }

func (h *planHandler) Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	if h.assistant != nil {
		if result, ok := h.planWithAssistant(ctx, conv); ok {
			return result
		}
	}

	// Assistant unavailable or failed; hand planning to an agent.
	agent, ok := plannerAgent(roster)
	if !ok {
		return models.PhaseInitResult{
			Success: false,
			Message: "planning unavailable: no assistant and no agents in roster",
		}
	}
	return models.PhaseInitResult{
		Success:   true,
		Message:   fmt.Sprintf("planning assigned to %s", agent.Name),
		NextAgent: agent.Pubkey,
	}
}

func (h *planHandler) planWithAssistant(ctx context.Context, conv *models.Conversation) (models.PhaseInitResult, bool) {
	res, err := h.assistant.Run(ctx, AssistantRequest{
		Prompt:      planPrompt(conv),
		SessionID:   conv.Metadata.PlanSessionID,
		ProjectPath: h.projectPath,
		Timeout:     h.timeout,
	})
	if err != nil || !res.Success {
		h.logger.Warn("assistant planning failed, falling back to planner agent",
			zap.String("conversation", conv.ID),
			zap.Error(err),
		)
		return models.PhaseInitResult{}, false
	}

	return models.PhaseInitResult{
		Success:            true,
		Message:            "plan produced by coding assistant",
		AssistantTriggered: true,
		Metadata: models.Metadata{
			PlanSummary:   res.Summary,
			PlanSessionID: res.SessionID,
		},
	}, true
}

// plannerAgent picks a planning-capable agent, preferring architects.
func plannerAgent(roster models.Roster) (models.Agent, bool) {
	if matches := roster.FilterKeyword("architect", "plan"); len(matches) > 0 {
		return matches[0], true
	}
	return roster.First()
}

func planPrompt(conv *models.Conversation) string {
	var b strings.Builder
	b.WriteString("Produce an implementation plan for the following conversation.\n")
	b.WriteString("End with a concise summary of the plan.\n\n")
	if conv.Metadata.ContextSummary != "" {
		b.WriteString(conv.Metadata.ContextSummary)
		b.WriteString("\n\n")
	}
	for _, ev := range conv.History {
		b.WriteString(ev.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
