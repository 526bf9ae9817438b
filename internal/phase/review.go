package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// maxReviewers caps how many agents are assigned to a review pass.
const maxReviewers = 3

// reviewerKeywords rank agents for review suitability.
var reviewerKeywords = []string{
	"review", "quality", "testing", "security", "architect", "senior", "expert", "lead",
}

// reviewHandler assembles a reviewer set for the completed implementation.
type reviewHandler struct {
	logger *zap.Logger
}

func newReviewHandler(deps Deps) *reviewHandler {
	return &reviewHandler{logger: deps.Logger.With(zap.String("phase", "review"))}
}

func (h *reviewHandler) Phase() models.Phase { return models.PhaseReview }

func (h *reviewHandler) Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	if roster.Len() == 0 {
		return models.PhaseInitResult{
			Success: false,
			Message: "review unavailable: no agents in roster",
		}
	}

	reviewers := selectReviewers(roster)
	pubkeys := make([]string, len(reviewers))
	for i, a := range reviewers {
		pubkeys[i] = a.Pubkey
	}

	h.logger.Info("reviewers assigned",
		zap.String("conversation", conv.ID),
		zap.Strings("reviewers", pubkeys),
	)
	return models.PhaseInitResult{
		Success:   true,
		Message:   fmt.Sprintf("%d reviewer(s) assigned", len(reviewers)),
		NextAgent: pubkeys[0],
		Metadata:  models.Metadata{Reviewers: pubkeys},
	}
}

// selectReviewers picks up to maxReviewers agents by review-suitability
// keywords, topping up from roster order when too few match.
func selectReviewers(roster models.Roster) []models.Agent {
	picked := roster.FilterKeyword(reviewerKeywords...)
	if len(picked) > maxReviewers {
		picked = picked[:maxReviewers]
	}

	seen := make(map[string]bool, len(picked))
	for _, a := range picked {
		seen[a.Pubkey] = true
	}
	for _, a := range roster.All() {
		if len(picked) >= maxReviewers {
			break
		}
		if !seen[a.Pubkey] {
			picked = append(picked, a)
			seen[a.Pubkey] = true
		}
	}
	return picked
}
