// Package revision detects semantic edits, decides which sections they
// affect and streams the targeted rewrite of those sections into drafts.
package revision

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/vampirenirmal/novelforge/internal/jsonx"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/story"
)

type DiffKind string

const (
	NoChanges       DiffKind = "NO_CHANGES"
	ChangesDetected DiffKind = "CHANGES_DETECTED"
	DiffUnknown     DiffKind = "UNKNOWN"
	DiffError       DiffKind = "ERROR"
)

// Diff is the classified difference between two versions of a section.
type Diff struct {
	Kind    DiffKind
	Changes []string
	Message string
}

// Summary renders the change list as bullet lines.
func (d Diff) Summary() string {
	if len(d.Changes) == 0 {
		return d.Message
	}
	var sb strings.Builder
	for i, c := range d.Changes {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(c)
	}
	return sb.String()
}

type DiffEngine struct {
	backend llm.Backend
	prompts *prompts.Library
	logger  *slog.Logger
}

func NewDiffEngine(backend llm.Backend, lib *prompts.Library) *DiffEngine {
	return &DiffEngine{
		backend: backend,
		prompts: lib,
		logger:  slog.Default().With("component", "diff"),
	}
}

// Compare classifies the edit from original to modified. Versions that only
// differ in case, punctuation or whitespace never reach the backend.
func (e *DiffEngine) Compare(ctx context.Context, sectionType, original, modified, genre string) Diff {
	if normalize(original) == normalize(modified) {
		return Diff{Kind: NoChanges, Message: "only formatting differs"}
	}

	msgs, err := e.prompts.Render(llm.TaskDiffVersions, prompts.Vars{
		SectionType: sectionType,
		Genre:       genre,
		Original:    original,
		Modified:    modified,
	})
	if err != nil {
		return Diff{Kind: DiffError, Message: err.Error()}
	}
	raw, err := e.backend.Complete(ctx, llm.TaskDiffVersions, msgs)
	if err != nil {
		e.logger.Warn("diff call failed", "section_type", sectionType, "error", err)
		return Diff{Kind: DiffError, Message: err.Error()}
	}

	payload, err := jsonx.Decode[struct {
		Result  string   `json:"result"`
		Changes []string `json:"changes"`
	}](raw)
	if err != nil {
		e.logger.Warn("diff reply unreadable", "error", err)
		return Diff{Kind: DiffUnknown, Message: err.Error()}
	}

	switch DiffKind(strings.ToUpper(strings.TrimSpace(payload.Result))) {
	case NoChanges:
		return Diff{Kind: NoChanges, Message: "no semantic changes"}
	case ChangesDetected:
		return Diff{Kind: ChangesDetected, Changes: payload.Changes}
	default:
		return Diff{Kind: DiffUnknown, Message: "unrecognized diff result " + payload.Result}
	}
}

// SectionType names a section's kind for prompts.
func SectionType(sec story.Section) string {
	switch sec.Kind {
	case story.KindExpandedPlot:
		return "story blueprint"
	case story.KindOverview:
		return "chapter overview"
	default:
		return "chapter"
	}
}

func normalize(text string) string {
	var sb strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}
