// Package nostr provides the pub/sub transport surface consumed by the
// routing core. Event signing and relay management are external concerns;
// this package only models publication and the event kinds the router emits.
package nostr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenex-agents/tenex/pkg/models"
)

// Kind tag values attached to outbound events so consumers can distinguish
// ordinary replies from orchestration telemetry.
const (
	KindReply           = "reply"
	KindPhaseTransition = "phase_transition"
	KindTeamFormed      = "team_formed"
	KindTeamUpdated     = "team_updated"
	KindTeamDisbanded   = "team_disbanded"
)

// Publisher publishes an event to the transport.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event models.Event) (err error)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

// NewReply builds a reply event to parent authored by pubkey.
func NewReply(pubkey, content string, parent models.Event) models.Event {
	return models.Event{
		ID:      uuid.New().String(),
		Pubkey:  pubkey,
		Content: content,
		Tags: [][]string{
			{"kind", KindReply},
			{models.TagReply, parent.ID},
			{models.TagMention, parent.Pubkey},
		},
		CreatedAt: time.Now(),
	}
}

// NewPhaseTransition builds a phase-transition announcement, distinct from
// ordinary replies.
func NewPhaseTransition(pubkey, conversationID string, from, to models.Phase) models.Event {
	return models.Event{
		ID:      uuid.New().String(),
		Pubkey:  pubkey,
		Content: fmt.Sprintf("Phase transition: %s -> %s", from, to),
		Tags: [][]string{
			{"kind", KindPhaseTransition},
			{models.TagReply, conversationID},
			{models.TagPhase, string(to)},
		},
		CreatedAt: time.Now(),
	}
}

// NewTeamAnnouncement builds an advisory team lifecycle event. Not required
// for routing correctness.
func NewTeamAnnouncement(kind, pubkey string, team *models.Team) models.Event {
	tags := [][]string{
		{"kind", kind},
		{models.TagReply, team.ConversationID},
		{"team", team.ID},
	}
	for _, m := range team.Members {
		tags = append(tags, []string{models.TagMention, m})
	}
	return models.Event{
		ID:        uuid.New().String(),
		Pubkey:    pubkey,
		Content:   fmt.Sprintf("Team %s (%s) with %d members", team.ID, team.Strategy, len(team.Members)),
		Tags:      tags,
		CreatedAt: time.Now(),
	}
}

// ChannelPublisher is an in-memory Publisher backed by a buffered channel.
// The daemon loop drains it toward the real transport; tests inspect it
// directly. Events are dropped (and counted) when the buffer is full so a
// stalled consumer can never block routing.
type ChannelPublisher struct {
	ch      chan models.Event
	mu      sync.Mutex
	dropped int
}

// NewChannelPublisher creates a ChannelPublisher with the given buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelPublisher{ch: make(chan models.Event, buffer)}
}

// Publish implements Publisher.
func (p *ChannelPublisher) Publish(ctx context.Context, event models.Event) error {
	select {
	case p.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return fmt.Errorf("publish buffer full, event %s dropped", event.ID)
	}
}

// Events returns the outbound event channel.
func (p *ChannelPublisher) Events() <-chan models.Event {
	return p.ch
}

// Dropped returns the number of events dropped due to a full buffer.
func (p *ChannelPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
