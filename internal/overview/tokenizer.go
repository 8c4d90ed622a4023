// Package overview splits a chapter overview into per-chapter descriptions
// and checks edited overviews for structural damage.
package overview

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/jsonx"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
)

type Method string

const (
	MethodProgrammatic Method = "programmatic"
	MethodLLM          Method = "llm"
	MethodFailed       Method = "failed"
)

var canonicalHeading = regexp.MustCompile(`(?m)^####\s+Chapter\s+(\d+):[^\n]*$`)

type Tokenizer struct {
	backend llm.Backend
	prompts *prompts.Library
	logger  *slog.Logger
}

func NewTokenizer(backend llm.Backend, lib *prompts.Library) *Tokenizer {
	return &Tokenizer{
		backend: backend,
		prompts: lib,
		logger:  slog.Default().With("component", "overview_tokenizer"),
	}
}

// Split cuts overview into n pieces. The pieces are contiguous slices of the
// overview, so joining them reproduces it exactly; any preamble before the
// first chapter stays in the first piece.
func (t *Tokenizer) Split(ctx context.Context, overview string, n int) ([]string, Method) {
	if n <= 0 || strings.TrimSpace(overview) == "" {
		return nil, MethodFailed
	}
	if pieces := SplitHeadings(overview); len(pieces) == n {
		return pieces, MethodProgrammatic
	}

	msgs, err := t.prompts.Render(llm.TaskTokenizeOverview, prompts.Vars{
		NumChapters:      n,
		NumberedOverview: Numbered(overview),
	})
	if err != nil {
		t.logger.Error("rendering tokenizer prompt", "error", err)
		return nil, MethodFailed
	}
	raw, err := t.backend.Complete(ctx, llm.TaskTokenizeOverview, msgs)
	if err != nil {
		t.logger.Warn("overview tokenization call failed", "error", err)
		return nil, MethodFailed
	}
	payload, err := jsonx.Decode[struct {
		Starts []int `json:"chapter_start_lines"`
	}](raw)
	if err != nil {
		t.logger.Warn("overview tokenization reply unreadable", "error", err)
		return nil, MethodFailed
	}
	if len(payload.Starts) != n {
		t.logger.Warn("overview tokenization returned wrong count",
			"got", len(payload.Starts), "want", n)
		return nil, MethodFailed
	}
	pieces, err := SplitAtLines(overview, payload.Starts)
	if err != nil {
		t.logger.Warn("overview tokenization lines rejected", "error", err)
		return nil, MethodFailed
	}
	return pieces, MethodLLM
}

// SplitHeadings cuts at every canonical "#### Chapter <n>: ..." heading.
func SplitHeadings(overview string) []string {
	locs := canonicalHeading.FindAllStringIndex(overview, -1)
	if len(locs) == 0 {
		return nil
	}
	cuts := make([]int, len(locs))
	for i, loc := range locs {
		cuts[i] = loc[0]
	}
	cuts[0] = 0
	return cut(overview, cuts)
}

// SplitAtLines cuts before each 1-based line number in starts.
func SplitAtLines(overview string, starts []int) ([]string, error) {
	offsets := lineOffsets(overview)
	cuts := make([]int, len(starts))
	prev := 0
	for i, line := range starts {
		if line < 1 || line > len(offsets) {
			return nil, fmt.Errorf("line %d out of range 1..%d", line, len(offsets))
		}
		if line <= prev {
			return nil, fmt.Errorf("line %d does not follow line %d", line, prev)
		}
		prev = line
		cuts[i] = offsets[line-1]
	}
	if len(cuts) > 0 {
		cuts[0] = 0
	}
	return cut(overview, cuts), nil
}

// Numbered prefixes every line with its 1-based number.
func Numbered(overview string) string {
	lines := strings.Split(overview, "\n")
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%d: %s\n", i+1, line)
	}
	return sb.String()
}

func lineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' && i+1 < len(text) {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

func cut(text string, cuts []int) []string {
	pieces := make([]string, len(cuts))
	for i, start := range cuts {
		end := len(text)
		if i+1 < len(cuts) {
			end = cuts[i+1]
		}
		pieces[i] = text[start:end]
	}
	return pieces
}
