package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/jsonx"
	"github.com/vampirenirmal/novelforge/internal/llm"
	"github.com/vampirenirmal/novelforge/internal/prompts"
	"github.com/vampirenirmal/novelforge/internal/story"
)

var errNoCandidates = errors.New("no candidate sections")

type ImpactKind string

const (
	ImpactDetected ImpactKind = "IMPACT_DETECTED"
	NoImpact       ImpactKind = "NO_IMPACT"
	ImpactUnknown  ImpactKind = "UNKNOWN"
	ImpactError    ImpactKind = "ERROR"
)

// Entry is one impacted section with the instruction for its rewrite.
type Entry struct {
	Section story.Section
	Reason  string
}

type Impact struct {
	Kind    ImpactKind
	Entries []Entry
	Message string
}

// Sections lists the impacted sections in entry order.
func (i Impact) Sections() []story.Section {
	out := make([]story.Section, len(i.Entries))
	for n, e := range i.Entries {
		out[n] = e.Section
	}
	return out
}

// Candidate is a section the analyzer may name, with its current content.
type Candidate struct {
	Section story.Section
	Content string
}

// Candidates builds the set of sections an edit of edited may affect:
// plot and overview always, then every chapter after a chapter edit, every
// chapter at or after the target of a fill, or every chapter otherwise. The
// edited section itself is never a candidate.
func Candidates(edited story.Section, st story.State) []Candidate {
	out := []Candidate{
		{Section: story.ExpandedPlot, Content: st.ExpandedPlot},
		{Section: story.ChaptersOverview, Content: st.ChaptersOverview},
	}
	first := 1
	switch edited.Kind {
	case story.KindChapter:
		first = edited.Index + 1
	case story.KindFill:
		first = edited.Index
	}
	for k := max(first, 1); k <= len(st.ChaptersFull); k++ {
		out = append(out, Candidate{Section: story.Chapter(k), Content: st.ChaptersFull[k-1]})
	}

	filtered := out[:0]
	for _, c := range out {
		if c.Section != edited {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// ImpactRequest is the input of Analyze.
type ImpactRequest struct {
	Edited        story.Section
	EditedContent string
	DiffSummary   string
	Candidates    []Candidate
	TotalChapters int
	Genre         string
}

type ImpactAnalyzer struct {
	backend llm.Backend
	prompts *prompts.Library
	logger  *slog.Logger
}

func NewImpactAnalyzer(backend llm.Backend, lib *prompts.Library) *ImpactAnalyzer {
	return &ImpactAnalyzer{
		backend: backend,
		prompts: lib,
		logger:  slog.Default().With("component", "impact"),
	}
}

// Analyze asks the backend which candidates the edit affects. Names outside
// the candidate set are dropped. A fill always impacts the overview.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, req ImpactRequest) Impact {
	if len(req.Candidates) == 0 {
		return Impact{Kind: NoImpact, Message: errNoCandidates.Error()}
	}
	isFill := req.Edited.IsFill()

	vars := prompts.Vars{
		SectionName:   req.Edited.String(),
		EditedContent: req.EditedContent,
		DiffSummary:   req.DiffSummary,
		Genre:         req.Genre,
		IsInfill:      isFill,
		TotalChapters: req.TotalChapters,
	}
	if isFill {
		vars.Chapter = req.Edited.Index
	}
	for _, c := range req.Candidates {
		vars.Candidates = append(vars.Candidates, prompts.Candidate{Name: c.Section.String(), Content: c.Content})
	}

	msgs, err := a.prompts.Render(llm.TaskAnalyzeImpact, vars)
	if err != nil {
		return Impact{Kind: ImpactError, Message: err.Error()}
	}
	raw, err := a.backend.Complete(ctx, llm.TaskAnalyzeImpact, msgs)
	if err != nil {
		a.logger.Warn("impact call failed", "section", req.Edited.String(), "error", err)
		return a.forceFill(req, Impact{Kind: ImpactError, Message: err.Error()})
	}

	payload, err := jsonx.Decode[struct {
		Result   string `json:"result"`
		Impacted []struct {
			Section string `json:"section"`
			Reason  string `json:"reason"`
		} `json:"impacted"`
		Message string `json:"message"`
	}](raw)
	if err != nil {
		a.logger.Warn("impact reply unreadable", "error", err)
		return a.forceFill(req, Impact{Kind: ImpactUnknown, Message: err.Error()})
	}

	allowed := make(map[story.Section]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		allowed[c.Section] = true
	}

	impact := Impact{Message: payload.Message}
	seen := make(map[story.Section]bool)
	for _, item := range payload.Impacted {
		sec, err := story.ParseSection(item.Section)
		if err != nil || !allowed[sec] || seen[sec] {
			a.logger.Debug("dropping impacted name", "name", item.Section)
			continue
		}
		seen[sec] = true
		impact.Entries = append(impact.Entries, Entry{Section: sec, Reason: strings.TrimSpace(item.Reason)})
	}

	switch ImpactKind(strings.ToUpper(strings.TrimSpace(payload.Result))) {
	case ImpactDetected, NoImpact:
	default:
		if len(impact.Entries) == 0 {
			return a.forceFill(req, Impact{Kind: ImpactUnknown, Message: "unrecognized impact result " + payload.Result})
		}
	}
	impact.Kind = NoImpact
	if len(impact.Entries) > 0 {
		impact.Kind = ImpactDetected
	}
	if impact.Kind == NoImpact && impact.Message == "" {
		impact.Message = "no other section depends on this edit"
	}
	return a.forceFill(req, impact)
}

// forceFill adds the overview to the impact of a fill edit when an overview
// exists among the candidates and was not already named.
func (a *ImpactAnalyzer) forceFill(req ImpactRequest, impact Impact) Impact {
	if !req.Edited.IsFill() {
		return impact
	}
	hasCandidate := false
	for _, c := range req.Candidates {
		if c.Section == story.ChaptersOverview && strings.TrimSpace(c.Content) != "" {
			hasCandidate = true
		}
	}
	if !hasCandidate {
		return impact
	}
	for _, e := range impact.Entries {
		if e.Section == story.ChaptersOverview {
			return impact
		}
	}

	reason := fmt.Sprintf("Add the new chapter at position %d to the overview", req.Edited.Index)
	if req.Edited.Index <= req.TotalChapters {
		reason += fmt.Sprintf(" and renumber chapters %d to %d by one", req.Edited.Index, req.TotalChapters)
	}
	impact.Entries = append(impact.Entries, Entry{Section: story.ChaptersOverview, Reason: reason + "."})
	impact.Kind = ImpactDetected
	return impact
}
