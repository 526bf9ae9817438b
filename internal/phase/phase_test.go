package phase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tenex-agents/tenex/pkg/models"
)

func phaseRoster() models.Roster {
	return models.NewRoster([]models.Agent{
		{Pubkey: "pk-arch", Name: "Arch", Role: "Software Architect"},
		{Pubkey: "pk-dev", Name: "Dev", Role: "Senior Developer"},
		{Pubkey: "pk-qa", Name: "Quinn", Role: "QA Specialist", Expertise: []string{"testing"}},
		{Pubkey: "pk-sec", Name: "Sal", Role: "Security Reviewer"},
	})
}

func okAssistant(summary string, files ...string) CodingAssistant {
	return AssistantFunc(func(ctx context.Context, req AssistantRequest) (*AssistantResult, error) {
		return &AssistantResult{
			Success:   true,
			SessionID: "sess-1",
			Summary:   summary,
			Files:     files,
			Cost:      0.42,
		}, nil
	})
}

func failingAssistant() CodingAssistant {
	return AssistantFunc(func(ctx context.Context, req AssistantRequest) (*AssistantResult, error) {
		return nil, errors.New("assistant unavailable")
	})
}

func TestEngineUnknownPhase(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), "limbo", &models.Conversation{ID: "c1"}, phaseRoster())
	if res.Success {
		t.Error("unknown phase must fail")
	}
	if res.Message == "" {
		t.Error("failure must carry a message")
	}
}

func TestEngineRecordsPhaseInit(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhaseChat, &models.Conversation{ID: "c1"}, phaseRoster())
	rec, ok := res.Metadata.PhaseInits[models.PhaseChat]
	if !ok {
		t.Fatal("missing phase init record")
	}
	if !rec.Success || rec.At.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestChatAssignsNoAgent(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhaseChat, &models.Conversation{ID: "c1"}, phaseRoster())
	if !res.Success {
		t.Fatalf("chat init failed: %s", res.Message)
	}
	if res.NextAgent != "" {
		t.Errorf("NextAgent = %q, want unset for chat", res.NextAgent)
	}
	if !strings.Contains(res.Message, "4 agents") {
		t.Errorf("Message = %q, want agent count", res.Message)
	}
	if res.Metadata.Extra["available_agents"] != "4" {
		t.Errorf("available_agents = %q, want 4", res.Metadata.Extra["available_agents"])
	}
}

func TestPlanPrefersAssistant(t *testing.T) {
	e := NewEngine(Deps{Assistant: okAssistant("three step plan")})
	conv := &models.Conversation{ID: "c1", Title: "Add search"}
	res := e.Initialize(context.Background(), models.PhasePlan, conv, phaseRoster())

	if !res.Success || !res.AssistantTriggered {
		t.Fatalf("result = %+v", res)
	}
	if res.Metadata.PlanSummary != "three step plan" {
		t.Errorf("PlanSummary = %q", res.Metadata.PlanSummary)
	}
	if res.Metadata.PlanSessionID != "sess-1" {
		t.Errorf("PlanSessionID = %q", res.Metadata.PlanSessionID)
	}
	if res.NextAgent != "" {
		t.Errorf("NextAgent = %q, want unset when assistant plans", res.NextAgent)
	}
}

func TestPlanFallsBackToArchitect(t *testing.T) {
	for _, assistant := range []CodingAssistant{nil, failingAssistant()} {
		e := NewEngine(Deps{Assistant: assistant})
		res := e.Initialize(context.Background(), models.PhasePlan, &models.Conversation{ID: "c1"}, phaseRoster())
		if !res.Success {
			t.Fatalf("plan init failed: %s", res.Message)
		}
		if res.NextAgent != "pk-arch" {
			t.Errorf("NextAgent = %q, want pk-arch", res.NextAgent)
		}
		if res.AssistantTriggered {
			t.Error("fallback path must not claim an assistant run")
		}
	}
}

func TestPlanEmptyRosterNoAssistant(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhasePlan, &models.Conversation{ID: "c1"}, models.NewRoster(nil))
	if res.Success {
		t.Error("plan with no assistant and no roster must fail")
	}
}

func TestExecuteRunsAssistantAndRecordsBranch(t *testing.T) {
	var created string
	e := NewEngine(Deps{
		Assistant: okAssistant("implemented it", "internal/app/server.go"),
		Branches: BranchFunc(func(ctx context.Context, name string) error {
			created = name
			return nil
		}),
		now: func() time.Time { return time.Unix(1700000000, 0) },
	})
	conv := &models.Conversation{ID: "c1", Title: "Add Search! Now"}
	res := e.Initialize(context.Background(), models.PhaseExecute, conv, phaseRoster())

	if !res.Success || !res.AssistantTriggered {
		t.Fatalf("result = %+v", res)
	}
	want := "tenex/add-search-now-1700000000"
	if created != want || res.Metadata.ExecuteBranch != want {
		t.Errorf("branch = %q / %q, want %q", created, res.Metadata.ExecuteBranch, want)
	}
	if res.Metadata.ExecuteSummary != "implemented it" || !res.Metadata.ImplementationComplete {
		t.Errorf("metadata = %+v", res.Metadata)
	}
	if len(res.Metadata.ExecuteFiles) != 1 {
		t.Errorf("ExecuteFiles = %v", res.Metadata.ExecuteFiles)
	}
	if res.NextAgent != "pk-dev" {
		t.Errorf("NextAgent = %q, want developer", res.NextAgent)
	}
}

func TestExecuteNoGitSentinel(t *testing.T) {
	tests := []struct {
		name     string
		branches BranchManager
	}{
		{"no manager", nil},
		{"branch creation fails", BranchFunc(func(ctx context.Context, name string) error {
			return errors.New("not a repository")
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Deps{Assistant: okAssistant("done"), Branches: tt.branches})
			res := e.Initialize(context.Background(), models.PhaseExecute, &models.Conversation{ID: "c1"}, phaseRoster())
			if res.Metadata.ExecuteBranch != "no-git" {
				t.Errorf("ExecuteBranch = %q, want no-git", res.Metadata.ExecuteBranch)
			}
			if !res.Success {
				t.Error("missing repository must not fail the phase")
			}
		})
	}
}

func TestExecuteReusesExistingBranch(t *testing.T) {
	calls := 0
	e := NewEngine(Deps{
		Assistant: okAssistant("done"),
		Branches: BranchFunc(func(ctx context.Context, name string) error {
			calls++
			return nil
		}),
	})
	conv := &models.Conversation{
		ID:       "c1",
		Metadata: models.Metadata{ExecuteBranch: "tenex/earlier-1"},
	}
	res := e.Initialize(context.Background(), models.PhaseExecute, conv, phaseRoster())
	if calls != 0 {
		t.Errorf("EnsureBranch called %d times, want 0", calls)
	}
	if res.Metadata.ExecuteBranch != "tenex/earlier-1" {
		t.Errorf("ExecuteBranch = %q", res.Metadata.ExecuteBranch)
	}
}

func TestExecuteAssistantFailureIsSoft(t *testing.T) {
	e := NewEngine(Deps{Assistant: failingAssistant()})
	res := e.Initialize(context.Background(), models.PhaseExecute, &models.Conversation{ID: "c1"}, phaseRoster())
	if res.Success {
		t.Error("failed run must report Success=false")
	}
	if res.NextAgent != "pk-dev" {
		t.Errorf("NextAgent = %q, want developer fallback", res.NextAgent)
	}
	if res.Metadata.ImplementationComplete {
		t.Error("failed run must not mark the implementation complete")
	}
}

func TestReviewSelectsKeywordReviewersFirst(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhaseReview, &models.Conversation{ID: "c1"}, phaseRoster())
	if !res.Success {
		t.Fatalf("review init failed: %s", res.Message)
	}
	// Arch, Quinn, and Sal all match review keywords; Dev does not.
	want := []string{"pk-arch", "pk-qa", "pk-sec"}
	if len(res.Metadata.Reviewers) != len(want) {
		t.Fatalf("Reviewers = %v, want %v", res.Metadata.Reviewers, want)
	}
	for i, pk := range want {
		if res.Metadata.Reviewers[i] != pk {
			t.Errorf("Reviewers[%d] = %q, want %q", i, res.Metadata.Reviewers[i], pk)
		}
	}
	if res.NextAgent != "pk-arch" {
		t.Errorf("NextAgent = %q, want first reviewer", res.NextAgent)
	}
}

func TestReviewTopsUpFromRosterOrder(t *testing.T) {
	roster := models.NewRoster([]models.Agent{
		{Pubkey: "pk-a", Name: "A", Role: "Generalist"},
		{Pubkey: "pk-b", Name: "B", Role: "Generalist"},
	})
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhaseReview, &models.Conversation{ID: "c1"}, roster)
	if !res.Success || len(res.Metadata.Reviewers) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestReviewEmptyRosterFails(t *testing.T) {
	e := NewEngine(Deps{})
	res := e.Initialize(context.Background(), models.PhaseReview, &models.Conversation{ID: "c1"}, models.NewRoster(nil))
	if res.Success {
		t.Error("review with empty roster must fail")
	}
}

func TestChoresRefreshesInventory(t *testing.T) {
	var got []string
	e := NewEngine(Deps{
		Inventory: InventoryFunc(func(ctx context.Context, files []string) (*InventoryStats, error) {
			got = files
			return &InventoryStats{FilesIndexed: len(files)}, nil
		}),
	})
	conv := &models.Conversation{
		ID:       "c1",
		Metadata: models.Metadata{ExecuteFiles: []string{"pkg/api/server.go"}},
		History: []models.Event{
			{Content: "I changed internal/store/db.go and also pkg/api/server.go."},
			{Content: "see https://example.com/docs/page.html and mail me at a@b.io"},
			{Content: "never touch /etc/passwd"},
		},
	}
	res := e.Initialize(context.Background(), models.PhaseChores, conv, phaseRoster())
	if !res.Success {
		t.Fatalf("chores failed: %s", res.Message)
	}

	want := []string{"pkg/api/server.go", "internal/store/db.go"}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChoresInventoryFailureNonFatal(t *testing.T) {
	e := NewEngine(Deps{
		Inventory: InventoryFunc(func(ctx context.Context, files []string) (*InventoryStats, error) {
			return nil, errors.New("index locked")
		}),
	})
	conv := &models.Conversation{
		ID:       "c1",
		Metadata: models.Metadata{ExecuteFiles: []string{"pkg/api/server.go"}},
	}
	res := e.Initialize(context.Background(), models.PhaseChores, conv, phaseRoster())
	if !res.Success {
		t.Error("inventory failure must not fail chores")
	}
	if res.Metadata.Extra["inventory_updated"] != "false" {
		t.Errorf("inventory_updated = %q, want false", res.Metadata.Extra["inventory_updated"])
	}
	if res.Metadata.Extra["inventory_error"] != "index locked" {
		t.Errorf("inventory_error = %q", res.Metadata.Extra["inventory_error"])
	}
}

func TestChoresCollectsNamedFiles(t *testing.T) {
	var got []string
	e := NewEngine(Deps{
		Inventory: InventoryFunc(func(ctx context.Context, files []string) (*InventoryStats, error) {
			got = files
			return &InventoryStats{FilesIndexed: len(files)}, nil
		}),
	})
	conv := &models.Conversation{
		ID: "c1",
		History: []models.Event{
			{Content: "Created file main.go and updated file docs/guide.md."},
			{Content: "File: config.yaml"},
			{Content: "Here is the change:\n```go\n// internal/phase/chores.go\npackage phase\n```"},
			{Content: "I modified file https://example.com/a.go upstream"},
		},
	}
	res := e.Initialize(context.Background(), models.PhaseChores, conv, phaseRoster())
	if !res.Success {
		t.Fatalf("chores failed: %s", res.Message)
	}

	want := []string{"main.go", "docs/guide.md", "config.yaml", "internal/phase/chores.go"}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNamedFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"create verb", "Created file main.go for the entrypoint", []string{"main.go"}},
		{"update verb with path", "I updated file pkg/api/server.go just now", []string{"pkg/api/server.go"}},
		{"file colon line", "File: config.yaml", []string{"config.yaml"}},
		{"fence comment", "```go\n// internal/store/db.go\npackage store\n```", []string{"internal/store/db.go"}},
		{"hash fence comment", "```sh\n# scripts/build.sh\nset -e\n```", []string{"scripts/build.sh"}},
		{"url rejected", "modified file https://example.com/a.go upstream", nil},
		{"absolute path rejected", "File: /etc/passwd", nil},
		{"no extension rejected", "created file Makefile2 here", nil},
		{"fence body ignored", "```go\n// a.go\ncreated file b.go inside\n```", []string{"a.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := namedFiles(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("namedFiles() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("namedFiles()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFilePathToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"internal/store/db.go", "internal/store/db.go", true},
		{"(pkg/models/event.go)", "pkg/models/event.go", true},
		{"docs/readme.md,", "docs/readme.md", true},
		{"https://example.com/x.go", "", false},
		{"user@host/path.go", "", false},
		{"/etc/passwd", "", false},
		{"just/words", "", false},
		{"trailing/dot.", "", false},
		{"word", "", false},
	}
	for _, tt := range tests {
		got, ok := filePathToken(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("filePathToken(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add Search! Now", "add-search-now"},
		{"  ---  ", "work"},
		{"", "work"},
		{"CamelCase title with_underscores", "camelcase-title-with-underscores"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
