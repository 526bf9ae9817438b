package team

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tenex-agents/tenex/internal/llm"
	"github.com/tenex-agents/tenex/pkg/models"
)

func teamRoster() models.Roster {
	return models.NewRoster([]models.Agent{
		{Pubkey: "pk-arch", Name: "Arch", Role: "Software Architect"},
		{Pubkey: "pk-dev", Name: "Dev", Role: "Senior Developer"},
		{Pubkey: "pk-qa", Name: "Quinn", Role: "QA Specialist"},
	})
}

func fixedCompleter(response string) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
		return &llm.Completion{Content: response}, nil
	})
}

func testEngine(response string) *FormationEngine {
	e := NewFormationEngine(fixedCompleter(response), nil)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }
	e.newID = func() string { return "abcd1234" }
	return e
}

const goodProposal = `{
	"analysis": {"request_type": "feature", "required_capabilities": ["backend"], "complexity": 6, "suggested_strategy": "hierarchical"},
	"team": {"lead": "pk-arch", "members": ["pk-arch", "pk-dev", "pk-qa"], "strategy": "hierarchical"},
	"task": {"description": "build the feature", "success_criteria": "tests pass", "complexity": 6, "requires_review": true},
	"reasoning": "needs design plus implementation"
}`

func TestAnalyzeAndFormTeam(t *testing.T) {
	e := testEngine(goodProposal)
	conv := &models.Conversation{ID: "c1", Title: "Feature work"}

	team, err := e.AnalyzeAndFormTeam(context.Background(), conv, models.Event{Content: "build it"}, teamRoster())
	if err != nil {
		t.Fatalf("AnalyzeAndFormTeam: %v", err)
	}

	if team.ID != "team-1700000000000-abcd1234" {
		t.Errorf("ID = %q", team.ID)
	}
	if team.Lead != "pk-arch" || len(team.Members) != 3 {
		t.Errorf("team = %+v", team)
	}
	if team.Strategy != models.StrategyHierarchical {
		t.Errorf("Strategy = %s", team.Strategy)
	}
	if team.TaskDefinition == nil || !team.TaskDefinition.RequiresReview {
		t.Errorf("TaskDefinition = %+v", team.TaskDefinition)
	}
	if team.Formation.Analysis.Complexity != 6 {
		t.Errorf("Analysis = %+v", team.Formation.Analysis)
	}
	if err := team.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFormTeamResolvesNamesAndAddsLead(t *testing.T) {
	e := testEngine(`{
		"team": {"lead": "Arch", "members": ["Dev"], "strategy": "parallel_execution"},
		"reasoning": "small"
	}`)
	team, err := e.AnalyzeAndFormTeam(context.Background(), &models.Conversation{ID: "c1"}, models.Event{}, teamRoster())
	if err != nil {
		t.Fatalf("AnalyzeAndFormTeam: %v", err)
	}
	if team.Lead != "pk-arch" {
		t.Errorf("Lead = %q", team.Lead)
	}
	if len(team.Members) != 2 {
		t.Fatalf("Members = %v, want lead appended", team.Members)
	}
	if err := team.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFormTeamFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no json", "I would suggest a small team."},
		{"unknown lead", `{"team": {"lead": "pk-ghost", "members": ["pk-dev"], "strategy": "hierarchical"}}`},
		{"unknown member", `{"team": {"lead": "pk-arch", "members": ["pk-ghost"], "strategy": "hierarchical"}}`},
		{"no members", `{"team": {"lead": "pk-arch", "members": [], "strategy": "hierarchical"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(tt.response)
			_, err := e.AnalyzeAndFormTeam(context.Background(), &models.Conversation{ID: "c1"}, models.Event{}, teamRoster())
			if !errors.Is(err, ErrTeamFormation) {
				t.Errorf("err = %v, want ErrTeamFormation", err)
			}
		})
	}
}

func TestFormTeamCompleterError(t *testing.T) {
	e := NewFormationEngine(llm.CompleterFunc(func(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
		return nil, errors.New("provider down")
	}), nil)
	_, err := e.AnalyzeAndFormTeam(context.Background(), &models.Conversation{ID: "c1"}, models.Event{}, teamRoster())
	if !errors.Is(err, ErrTeamFormation) {
		t.Errorf("err = %v, want ErrTeamFormation", err)
	}
}

func TestFormTeamEmptyRoster(t *testing.T) {
	e := testEngine(goodProposal)
	_, err := e.AnalyzeAndFormTeam(context.Background(), &models.Conversation{ID: "c1"}, models.Event{}, models.NewRoster(nil))
	if !errors.Is(err, ErrTeamFormation) {
		t.Errorf("err = %v, want ErrTeamFormation", err)
	}
}

func TestFormTeamUnknownStrategyFallsBack(t *testing.T) {
	e := testEngine(`{"team": {"lead": "pk-arch", "members": ["pk-arch"], "strategy": "swarm"}}`)
	team, err := e.AnalyzeAndFormTeam(context.Background(), &models.Conversation{ID: "c1"}, models.Event{}, teamRoster())
	if err != nil {
		t.Fatalf("AnalyzeAndFormTeam: %v", err)
	}
	if team.Strategy != models.StrategySingleResponder {
		t.Errorf("Strategy = %s, want single_responder", team.Strategy)
	}
}

// memStore is an in-memory TeamStore.
type memStore struct {
	teams map[string]*models.Team
	saves int
}

func newMemStore() *memStore {
	return &memStore{teams: map[string]*models.Team{}}
}

func (m *memStore) TeamForConversation(conversationID string) (*models.Team, error) {
	return m.teams[conversationID], nil
}

func (m *memStore) SaveTeam(team *models.Team) error {
	m.saves++
	m.teams[team.ConversationID] = team
	return nil
}

func TestCoordinatorFormsOnce(t *testing.T) {
	store := newMemStore()
	c := NewCoordinator(store, testEngine(goodProposal), nil, "pk-orch", nil)
	conv := &models.Conversation{ID: "c1"}
	ctx := context.Background()

	first, err := c.HandleUserEvent(ctx, conv, models.Event{Content: "build it"}, teamRoster())
	if err != nil {
		t.Fatalf("first HandleUserEvent: %v", err)
	}
	if first == nil {
		t.Fatal("expected a team")
	}

	// A later event, even one asking for a different team, changes nothing.
	second, err := c.HandleUserEvent(ctx, conv, models.Event{Content: "actually use everyone"}, teamRoster())
	if err != nil {
		t.Fatalf("second HandleUserEvent: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("team changed: %q -> %q", first.ID, second.ID)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestCoordinatorSkipsFormationOnMentions(t *testing.T) {
	store := newMemStore()
	c := NewCoordinator(store, testEngine(goodProposal), nil, "pk-orch", nil)

	event := models.Event{
		Content: "Dev, please fix this",
		Tags:    [][]string{{models.TagMention, "pk-dev"}},
	}
	team, err := c.HandleUserEvent(context.Background(), &models.Conversation{ID: "c1"}, event, teamRoster())
	if err != nil {
		t.Fatalf("HandleUserEvent: %v", err)
	}
	if team != nil {
		t.Errorf("team = %+v, want nil for explicitly targeted event", team)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want 0", store.saves)
	}
}

func TestCoordinatorPropagatesFormationError(t *testing.T) {
	c := NewCoordinator(newMemStore(), testEngine("not json"), nil, "pk-orch", nil)
	_, err := c.HandleUserEvent(context.Background(), &models.Conversation{ID: "c1"}, models.Event{Content: "hi"}, teamRoster())
	if !errors.Is(err, ErrTeamFormation) {
		t.Errorf("err = %v, want ErrTeamFormation", err)
	}
}

func TestCoordinatorAnnouncementFailureTolerated(t *testing.T) {
	store := newMemStore()
	publisher := publisherFunc(func(ctx context.Context, event models.Event) error {
		return errors.New("relay down")
	})
	c := NewCoordinator(store, testEngine(goodProposal), publisher, "pk-orch", nil)
	team, err := c.HandleUserEvent(context.Background(), &models.Conversation{ID: "c1"}, models.Event{Content: "go"}, teamRoster())
	if err != nil || team == nil {
		t.Fatalf("HandleUserEvent = %v, %v", team, err)
	}
}

type publisherFunc func(ctx context.Context, event models.Event) error

func (f publisherFunc) Publish(ctx context.Context, event models.Event) error { return f(ctx, event) }

func TestFormationPromptListsAgentsAndStrategies(t *testing.T) {
	p := formationPrompt(&models.Conversation{Title: "T"}, models.Event{Content: "req"}, teamRoster())
	for _, want := range []string{"pk-arch", "pk-dev", "pk-qa", "single_responder", "phased_delivery"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
