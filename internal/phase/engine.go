// Package phase implements per-phase initialization. Each workflow phase has
// one handler that prepares the conversation for that phase: choosing
// responders, invoking the coding assistant, creating work branches, or
// refreshing the project inventory. Handlers never return errors; every
// outcome is a PhaseInitResult so routing always proceeds.
package phase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// Handler initializes a conversation for one phase.
type Handler interface {
	// Phase names the phase this handler owns.
	Phase() models.Phase
	// Initialize prepares the conversation for the phase. The result's
	// metadata patch is merged into the conversation by the caller.
	Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult
}

// Deps carries the external capabilities the handlers use. Any of the
// capability fields may be nil; handlers degrade per-phase when one is
// missing.
type Deps struct {
	Assistant   CodingAssistant
	Inventory   InventoryService
	Branches    BranchManager
	ProjectPath string
	Logger      *zap.Logger

	// PlanTimeout and ExecuteTimeout bound the respective assistant runs;
	// zero means the built-in defaults.
	PlanTimeout    time.Duration
	ExecuteTimeout time.Duration

	// now is injectable for branch-name determinism in tests.
	now func() time.Time
}

// Engine dispatches phase initialization to the registered handlers. The
// handler set is closed: one handler per phase, built at construction.
type Engine struct {
	handlers map[models.Phase]Handler
	logger   *zap.Logger
}

// NewEngine builds the engine with the five phase handlers.
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	logger := deps.Logger.With(zap.String("component", "phase_engine"))

	handlers := map[models.Phase]Handler{}
	for _, h := range []Handler{
		newChatHandler(deps),
		newPlanHandler(deps),
		newExecuteHandler(deps),
		newReviewHandler(deps),
		newChoresHandler(deps),
	} {
		handlers[h.Phase()] = h
	}
	return &Engine{handlers: handlers, logger: logger}
}

// Initialize runs the handler for the conversation's target phase. An
// unknown phase produces a failed result, never a panic or error.
func (e *Engine) Initialize(ctx context.Context, target models.Phase, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	h, ok := e.handlers[target]
	if !ok {
		e.logger.Error("no handler for phase",
			zap.String("phase", string(target)),
			zap.String("conversation", conv.ID),
		)
		return models.PhaseInitResult{
			Success: false,
			Message: fmt.Sprintf("no handler registered for phase %q", target),
		}
	}

	result := h.Initialize(ctx, conv, roster)
	if result.Metadata.PhaseInits == nil {
		result.Metadata.PhaseInits = map[models.Phase]models.PhaseInitRecord{}
	}
	result.Metadata.PhaseInits[target] = models.PhaseInitRecord{
		Success:   result.Success,
		Message:   result.Message,
		NextAgent: result.NextAgent,
		At:        time.Now().UTC(),
	}

	e.logger.Info("phase initialized",
		zap.String("phase", string(target)),
		zap.String("conversation", conv.ID),
		zap.Bool("success", result.Success),
		zap.String("next_agent", result.NextAgent),
	)
	return result
}

// slugify reduces a title to a branch-safe slug: lowercase alphanumerics
// joined by single dashes, capped at 32 characters.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 32 {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "work"
	}
	return s
}
