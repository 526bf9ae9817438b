package phase

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// chatHandler prepares the default conversational phase. No single agent is
// assigned; the router decides per-message who speaks.
type chatHandler struct {
	logger *zap.Logger
}

func newChatHandler(deps Deps) *chatHandler {
	return &chatHandler{logger: deps.Logger.With(zap.String("phase", "chat"))}
}

func (h *chatHandler) Phase() models.Phase { return models.PhaseChat }

func (h *chatHandler) Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	available := roster.Len()
	h.logger.Debug("chat phase ready",
		zap.String("conversation", conv.ID),
		zap.Int("available_agents", available),
	)
	return models.PhaseInitResult{
		Success: true,
		Message: fmt.Sprintf("chat ready, %d agents available", available),
		Metadata: models.Metadata{Extra: map[string]string{
			"available_agents": strconv.Itoa(available),
		}},
	}
}
