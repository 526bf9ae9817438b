package phase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// executeTimeout bounds an implementation run of the coding assistant.
const executeTimeout = 30 * time.Minute

// branchPrefix namespaces the work branches this system creates.
const branchPrefix = "tenex/"

// noGitSentinel records that the project has no usable repository, so work
// proceeded without branch isolation.
const noGitSentinel = "no-git"

// executeHandler starts implementation work: it isolates a work branch,
// assigns a developer, and when a coding assistant is available runs the
// implementation through it.
type executeHandler struct {
	assistant   CodingAssistant
	branches    BranchManager
	projectPath string
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func newExecuteHandler(deps Deps) *executeHandler {
	timeout := deps.ExecuteTimeout
	if timeout == 0 {
		timeout = executeTimeout
	}
	return &executeHandler{
		assistant:   deps.Assistant,
		branches:    deps.Branches,
		projectPath: deps.ProjectPath,
		timeout:     timeout,
		now:         deps.now,
		logger:      deps.Logger.With(zap.String("phase", "execute")),
	}
}

func (h *executeHandler) Phase() models.Phase { return models.PhaseExecute }

func (h *executeHandler) Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	branch := h.ensureWorkBranch(ctx, conv)
	meta := models.Metadata{ExecuteBranch: branch}

	developer, hasDev := developerAgent(roster)

	if h.assistant == nil {
		if !hasDev {
			return models.PhaseInitResult{
				Success:  false,
				Message:  "execute unavailable: no assistant and no agents in roster",
				Metadata: meta,
			}
		}
		return models.PhaseInitResult{
			Success:   true,
			Message:   fmt.Sprintf("implementation assigned to %s on branch %s", developer.Name, branch),
			NextAgent: developer.Pubkey,
			Metadata:  meta,
		}
	}

	res, err := h.assistant.Run(ctx, AssistantRequest{
		Prompt:      executePrompt(conv),
		SessionID:   conv.Metadata.PlanSessionID,
		ProjectPath: h.projectPath,
		Timeout:     h.timeout,
	})
	if err != nil || !res.Success {
		// Assistant failure (including timeout) is soft: the branch is
		// recorded and routing continues with an agent assignment if one
		// exists.
		h.logger.Warn("assistant implementation run failed",
			zap.String("conversation", conv.ID),
			zap.String("branch", branch),
			zap.Error(err),
		)
		result := models.PhaseInitResult{
			Success:  false,
			Message:  "implementation run failed; work branch prepared",
			Metadata: meta,
		}
		if hasDev {
			result.NextAgent = developer.Pubkey
		}
		return result
	}

	meta.ExecuteSummary = res.Summary
	meta.ExecuteSessionID = res.SessionID
	meta.ExecuteFiles = res.Files
	meta.ExecuteCost = res.Cost
	meta.ImplementationComplete = true

	result := models.PhaseInitResult{
		Success:            true,
		Message:            fmt.Sprintf("implementation complete on branch %s", branch),
		AssistantTriggered: true,
		Metadata:           meta,
	}
	if hasDev {
		result.NextAgent = developer.Pubkey
	}
	return result
}

// ensureWorkBranch creates the isolated work branch, reusing one already
// recorded for the conversation. Without a repository the sentinel value is
// recorded instead.
func (h *executeHandler) ensureWorkBranch(ctx context.Context, conv *models.Conversation) string {
	if conv.Metadata.ExecuteBranch != "" {
		return conv.Metadata.ExecuteBranch
	}
	if h.branches == nil {
		return noGitSentinel
	}

	name := fmt.Sprintf("%s%s-%d", branchPrefix, slugify(conv.Title), h.now().Unix())
	if err := h.branches.EnsureBranch(ctx, name); err != nil {
		h.logger.Warn("branch creation failed, continuing without isolation",
			zap.String("conversation", conv.ID),
			zap.String("branch", name),
			zap.Error(err),
		)
		return noGitSentinel
	}
	return name
}

// developerAgent picks an implementation-capable agent.
func developerAgent(roster models.Roster) (models.Agent, bool) {
	if matches := roster.FilterKeyword("developer", "engineer"); len(matches) > 0 {
		return matches[0], true
	}
	return roster.First()
}

func executePrompt(conv *models.Conversation) string {
	var b strings.Builder
	b.WriteString("Implement the approved plan below. Report the files you change\n")
	b.WriteString("and finish with a summary of the implementation.\n\n")
	if conv.Metadata.PlanSummary != "" {
		b.WriteString("Plan:\n")
		b.WriteString(conv.Metadata.PlanSummary)
		b.WriteString("\n\n")
	}
	if conv.Metadata.ContextSummary != "" {
		b.WriteString(conv.Metadata.ContextSummary)
		b.WriteString("\n")
	}
	return b.String()
}
