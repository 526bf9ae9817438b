// Package git provides the repository operations the routing core needs for
// work-branch isolation.
package git

import "context"

// BranchOperations defines the branch operations used for isolating
// implementation work.
type BranchOperations interface {
	// IsRepo reports whether the path is inside a git repository.
	IsRepo(ctx context.Context) bool
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// EnsureBranch creates and checks out the named branch, or checks it
	// out when it already exists.
	EnsureBranch(ctx context.Context, name string) error
}

// DiffOperations defines the inspection operations used for post-work
// housekeeping.
type DiffOperations interface {
	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)
	// ChangedFiles returns a list of files changed since the base ref.
	ChangedFiles(ctx context.Context, base string) ([]string, error)
}

// Runner is the complete repository operation surface.
type Runner interface {
	BranchOperations
	DiffOperations
}
