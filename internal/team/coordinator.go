package team

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/nostr"
	"github.com/tenex-agents/tenex/pkg/models"
)

// TeamStore persists team records. Implemented by the conversation store.
type TeamStore interface {
	TeamForConversation(conversationID string) (*models.Team, error)
	SaveTeam(team *models.Team) error
}

// Coordinator decides when a conversation gets a team and owns the
// at-most-once formation rule.
type Coordinator struct {
	store     TeamStore
	engine    *FormationEngine
	publisher nostr.Publisher
	pubkey    string
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator. The publisher may be nil; team
// announcements are advisory.
func NewCoordinator(store TeamStore, engine *FormationEngine, publisher nostr.Publisher, pubkey string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		engine:    engine,
		publisher: publisher,
		pubkey:    pubkey,
		logger:    logger.With(zap.String("component", "team_coordinator")),
	}
}

// HandleUserEvent returns the team responsible for the conversation, forming
// one if needed. An existing team is returned unchanged regardless of the
// event's content. Events that explicitly mention agents skip formation and
// return nil: the sender chose the responders. The caller must hold the
// conversation lock.
func (c *Coordinator) HandleUserEvent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) (*models.Team, error) {
	existing, err := c.store.TeamForConversation(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load team for %s: %w", conv.ID, err)
	}
	if existing != nil {
		return existing, nil
	}

	if event.HasMentions() {
		c.logger.Debug("event targets agents explicitly, skipping team formation",
			zap.String("conversation", conv.ID),
		)
		return nil, nil
	}

	team, err := c.engine.AnalyzeAndFormTeam(ctx, conv, event, roster)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveTeam(team); err != nil {
		return nil, fmt.Errorf("persist team %s: %w", team.ID, err)
	}

	c.announce(ctx, team)
	return team, nil
}

// announce publishes the team-formed event. Failures are logged only.
func (c *Coordinator) announce(ctx context.Context, team *models.Team) {
	if c.publisher == nil {
		return
	}
	event := nostr.NewTeamAnnouncement(nostr.KindTeamFormed, c.pubkey, team)
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("team announcement failed",
			zap.String("team", team.ID),
			zap.Error(err),
		)
	}
}
