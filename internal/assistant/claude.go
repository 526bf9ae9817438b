// Package assistant adapts a local code-capable CLI to the phase engine's
// assistant and inventory capabilities.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/exec"
	"github.com/tenex-agents/tenex/internal/git"
	"github.com/tenex-agents/tenex/internal/phase"
)

// DefaultBinary is the assistant CLI invoked when none is configured.
const DefaultBinary = "claude"

const defaultRunTimeout = 10 * time.Minute

// ClaudeCLI runs prompts through a headless coding-assistant CLI. The CLI is
// expected to print a single JSON object describing the run when invoked with
// --output-format json; plain-text output is accepted as a bare summary.
type ClaudeCLI struct {
	runner exec.CommandRunner
	diffs  git.DiffOperations
	binary string
	logger *zap.Logger
}

// NewClaudeCLI creates a CLI-backed assistant. diffs is optional; when set,
// the working tree diff after a run populates the touched-file list.
func NewClaudeCLI(runner exec.CommandRunner, diffs git.DiffOperations, logger *zap.Logger) *ClaudeCLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeCLI{
		runner: runner,
		diffs:  diffs,
		binary: DefaultBinary,
		logger: logger.With(zap.String("component", "coding_assistant")),
	}
}

// WithBinary overrides the CLI binary name.
func (c *ClaudeCLI) WithBinary(name string) *ClaudeCLI {
	c.binary = name
	return c
}

// cliOutput is the JSON object the CLI prints in --output-format json mode.
type cliOutput struct {
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	IsError      bool    `json:"is_error"`
}

// Run executes the prompt in the project directory and reports the outcome.
func (c *ClaudeCLI) Run(ctx context.Context, req phase.AssistantRequest) (*phase.AssistantResult, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}

	start := time.Now()
	out, err := c.runner.Run(ctx, req.ProjectPath, c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w (%s)", c.binary, err, firstLine(out))
	}
	c.logger.Debug("assistant run finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("output_bytes", len(out)))

	result := c.parseOutput(out)
	if c.diffs != nil {
		files, derr := c.diffs.ChangedFiles(ctx, "HEAD")
		if derr != nil {
			c.logger.Debug("changed-file listing failed", zap.Error(derr))
		} else {
			result.Files = files
		}
	}
	return result, nil
}

func (c *ClaudeCLI) parseOutput(out []byte) *phase.AssistantResult {
	trimmed := bytes.TrimSpace(out)
	var parsed cliOutput
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		// Older CLI versions print plain text; take it as the summary.
		return &phase.AssistantResult{Success: true, Summary: string(trimmed)}
	}
	return &phase.AssistantResult{
		Success:      !parsed.IsError,
		SessionID:    parsed.SessionID,
		Summary:      parsed.Result,
		Cost:         parsed.TotalCostUSD,
		MessageCount: parsed.NumTurns,
	}
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var _ phase.CodingAssistant = (*ClaudeCLI)(nil)
