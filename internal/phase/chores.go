package phase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/pkg/models"
)

// choresHandler performs post-work housekeeping: it gathers the files the
// conversation touched and refreshes the project inventory for them.
// Inventory failure is advisory and never fails the phase.
type choresHandler struct {
	inventory InventoryService
	logger    *zap.Logger
}

func newChoresHandler(deps Deps) *choresHandler {
	return &choresHandler{
		inventory: deps.Inventory,
		logger:    deps.Logger.With(zap.String("phase", "chores")),
	}
}

func (h *choresHandler) Phase() models.Phase { return models.PhaseChores }

func (h *choresHandler) Initialize(ctx context.Context, conv *models.Conversation, roster models.Roster) models.PhaseInitResult {
	files := touchedFiles(conv)

	if h.inventory == nil || len(files) == 0 {
		return models.PhaseInitResult{
			Success: true,
			Message: fmt.Sprintf("chores complete, %d file(s) identified, inventory skipped", len(files)),
		}
	}

	stats, err := h.inventory.Update(ctx, files)
	if err != nil {
		h.logger.Warn("inventory refresh failed, continuing",
			zap.String("conversation", conv.ID),
			zap.Int("files", len(files)),
			zap.Error(err),
		)
		return models.PhaseInitResult{
			Success: true,
			Message: fmt.Sprintf("chores complete, inventory refresh failed for %d file(s)", len(files)),
			Metadata: models.Metadata{Extra: map[string]string{
				"inventory_updated": "false",
				"inventory_error":   err.Error(),
			}},
		}
	}

	return models.PhaseInitResult{
		Success: true,
		Message: fmt.Sprintf("chores complete, inventory refreshed for %d file(s)", stats.FilesIndexed),
		Metadata: models.Metadata{Extra: map[string]string{
			"inventory_updated": "true",
		}},
	}
}

// touchedFiles collects the files the conversation worked on: the recorded
// implementation files plus path-looking tokens mentioned in the history.
func touchedFiles(conv *models.Conversation) []string {
	seen := map[string]bool{}
	var out []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	for _, f := range conv.Metadata.ExecuteFiles {
		add(f)
	}
	for _, ev := range conv.History {
		for _, f := range namedFiles(ev.Content) {
			add(f)
		}
		for _, tok := range strings.Fields(ev.Content) {
			if f, ok := filePathToken(tok); ok {
				add(f)
			}
		}
	}
	return out
}

// fileVerbs are the announcement verbs that name a touched file.
var fileVerbs = map[string]bool{"created": true, "modified": true, "updated": true}

// namedFiles extracts files called out explicitly: "created/modified/updated
// file X" sentences, "File: X" lines, and the leading comment of a fenced
// code block. Unlike the bare-token scan, a named file may sit at the
// repository root with no directory component.
func namedFiles(content string) []string {
	var out []string
	inFence := false
	fenceOpened := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			fenceOpened = inFence
			continue
		}
		if fenceOpened {
			fenceOpened = false
			if f, ok := fenceComment(trimmed); ok {
				out = append(out, f)
			}
			continue
		}
		if inFence {
			continue
		}

		if rest, ok := strings.CutPrefix(trimmed, "File:"); ok {
			if f, ok := fileNameToken(strings.TrimSpace(rest)); ok {
				out = append(out, f)
			}
			continue
		}

		fields := strings.Fields(trimmed)
		for i := 0; i+2 < len(fields); i++ {
			if fileVerbs[strings.ToLower(fields[i])] && strings.EqualFold(fields[i+1], "file") {
				if f, ok := fileNameToken(fields[i+2]); ok {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

// fenceComment extracts the file named by a code block's leading comment,
// e.g. "// internal/store/db.go" or "# scripts/build.sh".
func fenceComment(line string) (string, bool) {
	for _, prefix := range []string{"//", "/*", "#", "--", ";"} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			rest = strings.TrimSuffix(strings.TrimSpace(rest), "*/")
			return fileNameToken(strings.TrimSpace(rest))
		}
	}
	return "", false
}

// fileNameToken cleans a token and reports whether it names a file: a
// relative path or bare filename with an extension. URLs, emails, and
// absolute paths are rejected.
func fileNameToken(tok string) (string, bool) {
	tok = strings.Trim(tok, ".,;:!?()[]{}\"'`")
	if tok == "" {
		return "", false
	}
	if strings.Contains(tok, "://") || strings.Contains(tok, "@") {
		return "", false
	}
	if strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, "~") {
		return "", false
	}
	base := tok[strings.LastIndexByte(tok, '/')+1:]
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return "", false
	}
	return tok, true
}

// filePathToken additionally requires a directory component, keeping the
// bare-token scan from matching ordinary dotted words.
func filePathToken(tok string) (string, bool) {
	if !strings.Contains(tok, "/") {
		return "", false
	}
	return fileNameToken(tok)
}
