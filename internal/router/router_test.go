package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tenex-agents/tenex/internal/nostr"
	"github.com/tenex-agents/tenex/internal/policy"
	"github.com/tenex-agents/tenex/internal/store"
	"github.com/tenex-agents/tenex/internal/strategy"
	"github.com/tenex-agents/tenex/internal/team"
	"github.com/tenex-agents/tenex/pkg/models"
)

func routerRoster() models.Roster {
	return models.NewRoster([]models.Agent{
		{Pubkey: "pk-arch", Name: "Arch", Role: "Software Architect"},
		{Pubkey: "pk-dev", Name: "Dev", Role: "Senior Developer"},
		{Pubkey: "pk-qa", Name: "Quinn", Role: "QA Reviewer"},
	})
}

// fakeStore is an in-memory ConversationStore.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	compactions   int
	failAddEvent  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: map[string]*models.Conversation{}}
}

func (s *fakeStore) WithConversation(id string, fn func() error) error { return fn() }

func (s *fakeStore) CreateConversation(event models.Event) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[event.ID]; ok {
		return cloneConv(conv), nil
	}
	conv := &models.Conversation{
		ID:      event.ID,
		Title:   event.Content,
		History: []models.Event{event},
	}
	s.conversations[event.ID] = conv
	return cloneConv(conv), nil
}

func (s *fakeStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConv(conv), nil
}

func (s *fakeStore) GetConversationByEvent(eventID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ID == eventID {
			return cloneConv(conv), nil
		}
		for _, ev := range conv.History {
			if ev.ID == eventID {
				return cloneConv(conv), nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) AddEvent(id string, event models.Event) error {
	if s.failAddEvent {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.History = append(conv.History, event)
	return nil
}

func (s *fakeStore) UpdatePhase(id string, phase models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.Phase = phase
	return nil
}

func (s *fakeStore) UpdateCurrentAgent(id string, pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.CurrentAgent = pubkey
	return nil
}

func (s *fakeStore) UpdateMetadata(id string, patch models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.Metadata.Merge(patch)
	return nil
}

func (s *fakeStore) CompactHistory(id string, newPhase models.Phase) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return "", store.ErrNotFound
	}
	s.compactions++
	summary := store.SummarizeHistory(conv.History, conv.Phase, newPhase)
	conv.History = nil
	conv.Metadata.ContextSummary = summary
	return summary, nil
}

func cloneConv(conv *models.Conversation) *models.Conversation {
	c := *conv
	c.History = append([]models.Event(nil), conv.History...)
	return &c
}

// fakeOracle returns configured decisions.
type fakeOracle struct {
	routing    models.RoutingDecision
	selection  models.AgentSelectionDecision
	transition models.PhaseTransitionDecision
	fallback   models.FallbackRoutingDecision
}

func (o *fakeOracle) RouteNewConversation(ctx context.Context, event models.Event, roster models.Roster, projectContext string) models.RoutingDecision {
	return o.routing
}

func (o *fakeOracle) SelectAgent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.AgentSelectionDecision {
	return o.selection
}

func (o *fakeOracle) DeterminePhaseTransition(ctx context.Context, conv *models.Conversation, event models.Event) models.PhaseTransitionDecision {
	return o.transition
}

func (o *fakeOracle) FallbackRoute(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) models.FallbackRoutingDecision {
	return o.fallback
}

// fakePhases records initializations and returns a fixed result per phase.
type fakePhases struct {
	mu      sync.Mutex
	inits   []models.Phase
	results map[models.Phase]models.PhaseInitResult
}

func (p *fakePhases) Initialize(ctx context.Context, target models.Phase, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	p.mu.Lock()
	p.inits = append(p.inits, target)
	p.mu.Unlock()
	if res, ok := p.results[target]; ok {
		return res
	}
	return models.PhaseInitResult{Success: true, Message: "phase ready"}
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) all() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

func (p *capturePublisher) last() models.Event {
	events := p.all()
	if len(events) == 0 {
		return models.Event{}
	}
	return events[len(events)-1]
}

type routerFixture struct {
	store     *fakeStore
	oracle    *fakeOracle
	phases    *fakePhases
	publisher *capturePublisher
	router    *Router
}

func newFixture() *routerFixture {
	f := &routerFixture{
		store:     newFakeStore(),
		oracle:    &fakeOracle{},
		phases:    &fakePhases{results: map[models.Phase]models.PhaseInitResult{}},
		publisher: &capturePublisher{},
	}
	f.router = New(Config{
		Store:     f.store,
		Oracle:    f.oracle,
		Phases:    f.phases,
		Policy:    policy.Default(),
		Publisher: f.publisher,
		Pubkey:    "pk-router",
	})
	return f
}

func reply(id, parent, content string) models.Event {
	return models.Event{
		ID:      id,
		Pubkey:  "pk-user",
		Content: content,
		Tags:    [][]string{{models.TagReply, parent}},
	}
}

func TestNewConversationStartsInChatWithoutAgent(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}
	f.phases.results[models.PhaseChat] = models.PhaseInitResult{Success: true, Message: "chat ready, 3 agents available"}

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "hello"}, routerRoster())

	conv, err := f.store.GetConversation("e1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Phase != models.PhaseChat || conv.CurrentAgent != "" {
		t.Errorf("conv = phase %s agent %q", conv.Phase, conv.CurrentAgent)
	}

	last := f.publisher.last()
	if !strings.Contains(last.Content, "3 agents available") {
		t.Errorf("reply = %q", last.Content)
	}
	if last.ReplyTo() != "e1" {
		t.Errorf("reply parent = %q", last.ReplyTo())
	}
}

func TestNewConversationInvalidDecisionForcedToChat(t *testing.T) {
	f := newFixture()
	// Execute is not reachable from an unset phase via business rules alone;
	// an unknown agent also invalidates the decision.
	f.oracle.routing = models.RoutingDecision{Phase: models.PhasePlan, NextAgent: "pk-ghost", Confidence: 0.9}

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Content: "hi"}, routerRoster())

	conv, _ := f.store.GetConversation("e1")
	if conv.Phase != models.PhaseChat {
		t.Errorf("Phase = %s, want forced chat", conv.Phase)
	}
	if len(f.phases.inits) != 1 || f.phases.inits[0] != models.PhaseChat {
		t.Errorf("inits = %v", f.phases.inits)
	}
}

func TestNewConversationExecuteDecisionGated(t *testing.T) {
	f := newFixture()
	// Confident oracle or not, execute has entry preconditions: no plan
	// summary exists yet, so the conversation must start in chat.
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseExecute, NextAgent: "pk-dev", Confidence: 0.95}

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "ship it"}, routerRoster())

	conv, _ := f.store.GetConversation("e1")
	if conv.Phase != models.PhaseChat {
		t.Errorf("Phase = %s, want chat", conv.Phase)
	}
	if len(f.phases.inits) != 1 || f.phases.inits[0] != models.PhaseChat {
		t.Errorf("inits = %v, want only chat", f.phases.inits)
	}
}

func TestNewConversationCanStartInPlan(t *testing.T) {
	f := newFixture()
	// Plan's gate needs one user message; the origin event satisfies it.
	f.oracle.routing = models.RoutingDecision{Phase: models.PhasePlan, NextAgent: "pk-arch", Confidence: 0.9}

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "design a cache"}, routerRoster())

	conv, _ := f.store.GetConversation("e1")
	if conv.Phase != models.PhasePlan {
		t.Errorf("Phase = %s, want plan", conv.Phase)
	}
}

func TestNewConversationAlwaysResponds(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}
	// Internal persistence failure must still produce a reply.
	broken := &brokenPersistStore{fakeStore: f.store}
	f.router = New(Config{
		Store:     broken,
		Oracle:    f.oracle,
		Phases:    f.phases,
		Policy:    policy.Default(),
		Publisher: f.publisher,
		Pubkey:    "pk-router",
	})

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Content: "hi"}, routerRoster())

	last := f.publisher.last()
	if last.Content != troubleMessage {
		t.Errorf("reply = %q, want generic trouble message", last.Content)
	}
}

type brokenPersistStore struct {
	*fakeStore
}

func (s *brokenPersistStore) UpdatePhase(id string, phase models.Phase) error {
	return errors.New("write failed")
}

func TestReplyToUnknownConversationDropped(t *testing.T) {
	f := newFixture()
	f.router.RouteReply(context.Background(), reply("e2", "missing", "hi"), routerRoster())
	if len(f.publisher.all()) != 0 {
		t.Errorf("published = %v, want none for dropped reply", f.publisher.all())
	}
}

func TestReplyWithoutParentDropped(t *testing.T) {
	f := newFixture()
	f.router.RouteReply(context.Background(), models.Event{ID: "e2", Content: "hi"}, routerRoster())
	if len(f.publisher.all()) != 0 {
		t.Error("reply without parent must be dropped silently")
	}
}

func TestReplyToPublishedReplyResolvesThroughRoot(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhaseChat, models.Metadata{})
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-dev", Confidence: 0.8}

	// Threaded onto an outbound reply the store never recorded; the root
	// tag still identifies the conversation.
	event := models.Event{
		ID:      "e3",
		Pubkey:  "pk-user",
		Content: "looks good, keep going",
		Tags: [][]string{
			{models.TagReply, "published-reply-1"},
			{models.TagReplyRoot, "c1"},
		},
	}
	f.router.RouteReply(context.Background(), event, routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if len(conv.History) != 2 {
		t.Fatalf("history = %d events, want reply appended", len(conv.History))
	}
	if len(f.publisher.all()) == 0 {
		t.Fatal("no response published")
	}
}

func seedConversation(f *routerFixture, phase models.Phase, meta models.Metadata) *models.Conversation {
	conv := &models.Conversation{
		ID:       "c1",
		Title:    "seeded",
		Phase:    phase,
		Metadata: meta,
		History:  []models.Event{{ID: "c1", Pubkey: "pk-user", Content: "origin"}},
	}
	f.store.conversations["c1"] = conv
	return conv
}

func TestReplyChatRoutesToSelectedAgent(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhaseChat, models.Metadata{})
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-dev", Confidence: 0.8}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "how does it work?"), routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.CurrentAgent != "pk-dev" {
		t.Errorf("CurrentAgent = %q", conv.CurrentAgent)
	}
	if len(conv.History) != 2 {
		t.Errorf("history = %d events, want appended reply", len(conv.History))
	}

	last := f.publisher.last()
	mentions := last.Mentions()
	if len(mentions) == 0 || mentions[len(mentions)-1] != "pk-dev" {
		t.Errorf("mentions = %v, want routed agent", mentions)
	}
}

func TestReplyKeepsCurrentAgentOutsideChat(t *testing.T) {
	f := newFixture()
	conv := seedConversation(f, models.PhasePlan, models.Metadata{})
	conv.CurrentAgent = "pk-arch"
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-dev"}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "more detail please"), routerRoster())

	got, _ := f.store.GetConversation("c1")
	if got.CurrentAgent != "pk-arch" {
		t.Errorf("CurrentAgent = %q, want sticky pk-arch", got.CurrentAgent)
	}
}

func TestPhaseTagTransitionExecutes(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhaseChat, models.Metadata{})

	event := reply("e2", "c1", "let's plan this properly")
	event.Tags = append(event.Tags, []string{models.TagPhase, "plan"})
	f.router.RouteReply(context.Background(), event, routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.Phase != models.PhasePlan {
		t.Errorf("Phase = %s, want plan", conv.Phase)
	}
	if f.store.compactions != 1 {
		t.Errorf("compactions = %d, want 1", f.store.compactions)
	}

	var sawTransition bool
	for _, ev := range f.publisher.all() {
		for _, vals := range ev.TagValues("kind") {
			if vals == nostr.KindPhaseTransition {
				sawTransition = true
			}
		}
	}
	if !sawTransition {
		t.Error("phase transition announcement missing")
	}
}

func TestPhaseTagRefusedWhenGateUnmet(t *testing.T) {
	f := newFixture()
	// No plan summary: chat -> plan -> execute gate cannot pass.
	seedConversation(f, models.PhasePlan, models.Metadata{})

	event := reply("e2", "c1", "just build it")
	event.Tags = append(event.Tags, []string{models.TagPhase, "execute"})
	f.router.RouteReply(context.Background(), event, routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.Phase != models.PhasePlan {
		t.Errorf("Phase = %s, want unchanged plan", conv.Phase)
	}
	last := f.publisher.last()
	if !strings.Contains(last.Content, "Cannot move to execute") {
		t.Errorf("reply = %q, want refusal", last.Content)
	}
}

func TestLLMTransitionExecutes(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhasePlan, models.Metadata{PlanSummary: "plan", PlanApproved: true})
	f.oracle.transition = models.PhaseTransitionDecision{
		ShouldTransition: true,
		TargetPhase:      models.PhaseExecute,
		Confidence:       0.9,
	}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "go ahead"), routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.Phase != models.PhaseExecute {
		t.Errorf("Phase = %s, want execute", conv.Phase)
	}
}

func TestLLMTransitionLowConfidenceFallsThrough(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhasePlan, models.Metadata{PlanSummary: "plan", PlanApproved: true})
	f.oracle.transition = models.PhaseTransitionDecision{
		ShouldTransition: true,
		TargetPhase:      models.PhaseExecute,
		Confidence:       0.5,
	}
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-arch"}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "maybe start?"), routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.Phase != models.PhasePlan {
		t.Errorf("Phase = %s, want unchanged plan", conv.Phase)
	}
	if conv.CurrentAgent != "pk-arch" {
		t.Errorf("CurrentAgent = %q, want agent routing to claim", conv.CurrentAgent)
	}
}

func TestLLMTransitionGateUnmetFallsThrough(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhasePlan, models.Metadata{})
	f.oracle.transition = models.PhaseTransitionDecision{
		ShouldTransition: true,
		TargetPhase:      models.PhaseExecute,
		Confidence:       0.95,
	}
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-arch"}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "build it"), routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.Phase != models.PhasePlan || f.store.compactions != 0 {
		t.Errorf("phase %s, compactions %d; transition must be refused", conv.Phase, f.store.compactions)
	}
}

func TestPipelineErrorUsesFallbackRoute(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhaseChat, models.Metadata{})
	// No agent selectable: SelectAgent returns empty, routeToAgent errors.
	f.oracle.selection = models.AgentSelectionDecision{Agent: "", Fallback: true}
	f.oracle.fallback = models.FallbackRoutingDecision{
		Phase:     models.PhaseChat,
		Agent:     "pk-dev",
		Uncertain: true,
	}

	f.router.RouteReply(context.Background(), reply("e2", "c1", "anyone there?"), routerRoster())

	conv, _ := f.store.GetConversation("c1")
	if conv.CurrentAgent != "pk-dev" {
		t.Errorf("CurrentAgent = %q, want fallback agent", conv.CurrentAgent)
	}
	last := f.publisher.last()
	if last.Content != troubleMessage {
		t.Errorf("reply = %q", last.Content)
	}
}

func TestReplyAppendFailureStillResponds(t *testing.T) {
	f := newFixture()
	seedConversation(f, models.PhaseChat, models.Metadata{})
	f.store.failAddEvent = true

	f.router.RouteReply(context.Background(), reply("e2", "c1", "hi"), routerRoster())

	last := f.publisher.last()
	if last.Content != troubleMessage {
		t.Errorf("reply = %q, want generic trouble message", last.Content)
	}
}

// teamFixture exercises the team-and-strategy response path.
type fixedCoordinator struct {
	team *models.Team
	err  error
}

func (c *fixedCoordinator) HandleUserEvent(ctx context.Context, conv *models.Conversation, event models.Event, roster models.Roster) (*models.Team, error) {
	return c.team, c.err
}

type fixedRunner struct {
	outcome *strategy.Outcome
	err     error
}

func (r *fixedRunner) Execute(ctx context.Context, t *models.Team, conv *models.Conversation, event models.Event, roster models.Roster) (*strategy.Outcome, error) {
	return r.outcome, r.err
}

func TestNewConversationTeamResponsePath(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}

	tm := &models.Team{
		ID: "team-1", ConversationID: "e1",
		Lead: "pk-arch", Members: []string{"pk-arch", "pk-dev"},
		Strategy: models.StrategyHierarchical,
	}
	f.router = New(Config{
		Store:       f.store,
		Oracle:      f.oracle,
		Phases:      f.phases,
		Policy:      policy.Default(),
		Coordinator: &fixedCoordinator{team: tm},
		Strategies:  &fixedRunner{outcome: &strategy.Outcome{Content: "team answer"}},
		Publisher:   f.publisher,
		Pubkey:      "pk-router",
	})

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "build it"}, routerRoster())

	last := f.publisher.last()
	if last.Content != "team answer" || last.Pubkey != "pk-arch" {
		t.Errorf("reply = %q from %q, want team answer from lead", last.Content, last.Pubkey)
	}
}

func TestTeamFormationFailureFailsRoutingPass(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}
	f.phases.results[models.PhaseChat] = models.PhaseInitResult{Success: true, Message: "chat ready"}

	f.router = New(Config{
		Store:       f.store,
		Oracle:      f.oracle,
		Phases:      f.phases,
		Policy:      policy.Default(),
		Coordinator: &fixedCoordinator{err: team.ErrTeamFormation},
		Strategies:  &fixedRunner{},
		Publisher:   f.publisher,
		Pubkey:      "pk-router",
	})

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "hi"}, routerRoster())

	last := f.publisher.last()
	if last.Content != troubleMessage {
		t.Errorf("reply = %q, want failure reply, not the normal acknowledgement", last.Content)
	}
}

func TestNoTeamContinuesSingleAgent(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}
	f.phases.results[models.PhaseChat] = models.PhaseInitResult{Success: true, Message: "chat ready"}

	// Mention-addressed events skip formation: coordinator yields no team
	// and no error, and the plain acknowledgement goes out.
	f.router = New(Config{
		Store:       f.store,
		Oracle:      f.oracle,
		Phases:      f.phases,
		Policy:      policy.Default(),
		Coordinator: &fixedCoordinator{},
		Strategies:  &fixedRunner{},
		Publisher:   f.publisher,
		Pubkey:      "pk-router",
	})

	f.router.RouteNewConversation(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "hi"}, routerRoster())

	last := f.publisher.last()
	if last.Content != "chat ready" {
		t.Errorf("reply = %q, want single-agent path", last.Content)
	}
}

func TestRouteDispatchesByReplyReference(t *testing.T) {
	f := newFixture()
	f.oracle.routing = models.RoutingDecision{Phase: models.PhaseChat, Confidence: 0.9}
	f.oracle.selection = models.AgentSelectionDecision{Agent: "pk-dev"}

	f.router.Route(context.Background(), models.Event{ID: "e1", Pubkey: "pk-user", Content: "start"}, routerRoster())
	if _, err := f.store.GetConversation("e1"); err != nil {
		t.Fatalf("new conversation not created: %v", err)
	}

	f.router.Route(context.Background(), reply("e2", "e1", "follow up"), routerRoster())
	conv, _ := f.store.GetConversation("e1")
	if len(conv.History) != 2 {
		t.Errorf("history = %d, want reply appended", len(conv.History))
	}
}
