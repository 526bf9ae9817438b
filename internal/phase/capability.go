package phase

import (
	"context"
	"time"
)

// AssistantRequest is one invocation of the external coding assistant.
type AssistantRequest struct {
	// Prompt is the instruction for the assistant.
	Prompt string
	// SessionID resumes a prior assistant session when set.
	SessionID string
	// ProjectPath is the working tree the assistant operates on.
	ProjectPath string
	// Timeout bounds the run; zero means the assistant's default.
	Timeout time.Duration
}

// AssistantResult is the outcome of a coding-assistant run.
type AssistantResult struct {
	// Success reports whether the run completed.
	Success bool
	// SessionID identifies the assistant session for later resumption.
	SessionID string
	// Summary is the assistant's report of what it did or planned.
	Summary string
	// Files lists files the run reported as touched.
	Files []string
	// Cost is the reported cost of the run.
	Cost float64
	// MessageCount is the number of assistant messages exchanged.
	MessageCount int
}

// CodingAssistant runs prompts against an external code-capable assistant.
// Implementations wrap a local CLI tool or a remote API.
type CodingAssistant interface {
	Run(ctx context.Context, req AssistantRequest) (*AssistantResult, error)
}

// AssistantFunc adapts a function to the CodingAssistant interface.
type AssistantFunc func(ctx context.Context, req AssistantRequest) (*AssistantResult, error)

// Run calls f.
func (f AssistantFunc) Run(ctx context.Context, req AssistantRequest) (*AssistantResult, error) {
	return f(ctx, req)
}

// InventoryStats reports the outcome of a project inventory refresh.
type InventoryStats struct {
	// FilesIndexed is how many files the refresh covered.
	FilesIndexed int
	// Duration is how long the refresh took.
	Duration time.Duration
}

// InventoryService refreshes the project's file inventory for the files
// touched by recent work. Failures are advisory; callers must not let an
// inventory error fail routing.
type InventoryService interface {
	Update(ctx context.Context, files []string) (*InventoryStats, error)
}

// InventoryFunc adapts a function to the InventoryService interface.
type InventoryFunc func(ctx context.Context, files []string) (*InventoryStats, error)

// Update calls f.
func (f InventoryFunc) Update(ctx context.Context, files []string) (*InventoryStats, error) {
	return f(ctx, files)
}

// BranchManager creates isolated work branches in the project repository.
type BranchManager interface {
	// EnsureBranch creates and checks out the named branch, returning an
	// error when the project is not a repository or the operation fails.
	EnsureBranch(ctx context.Context, name string) error
}

// BranchFunc adapts a function to the BranchManager interface.
type BranchFunc func(ctx context.Context, name string) error

// EnsureBranch calls f.
func (f BranchFunc) EnsureBranch(ctx context.Context, name string) error {
	return f(ctx, name)
}
