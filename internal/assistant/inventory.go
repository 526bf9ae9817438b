package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/exec"
	"github.com/tenex-agents/tenex/internal/phase"
)

// FileInventory refreshes the project's view of recently touched files. Paths
// that no longer exist on disk are dropped from the count rather than failing
// the refresh.
type FileInventory struct {
	runner      exec.CommandRunner
	projectPath string
	logger      *zap.Logger
}

// NewFileInventory creates an inventory service rooted at projectPath.
func NewFileInventory(runner exec.CommandRunner, projectPath string, logger *zap.Logger) *FileInventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileInventory{
		runner:      runner,
		projectPath: projectPath,
		logger:      logger.With(zap.String("component", "inventory")),
	}
}

// Update verifies the touched files against the working tree and reports how
// many were indexed.
func (inv *FileInventory) Update(ctx context.Context, files []string) (*phase.InventoryStats, error) {
	start := time.Now()
	indexed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if inv.runner.Exists(ctx, inv.projectPath, f) {
			indexed++
		} else {
			inv.logger.Debug("skipping vanished file", zap.String("path", f))
		}
	}
	return &phase.InventoryStats{
		FilesIndexed: indexed,
		Duration:     time.Since(start),
	}, nil
}

var _ phase.InventoryService = (*FileInventory)(nil)
