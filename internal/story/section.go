package story

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SectionKind discriminates the variants of a section name.
type SectionKind int

const (
	KindExpandedPlot SectionKind = iota
	KindOverview
	KindChapter
	KindFill
)

func (k SectionKind) String() string {
	switch k {
	case KindExpandedPlot:
		return "expanded_plot"
	case KindOverview:
		return "chapters_overview"
	case KindChapter:
		return "chapter"
	case KindFill:
		return "fill"
	}
	return "unknown"
}

const (
	expandedPlotName = "Expanded Plot"
	overviewName     = "Chapters Overview"
)

// Section is the tagged identifier that keys every per-section operation.
// Index is the 1-based chapter number for chapters and the target position
// for fills; Seq is the per-position sequence number of a fill.
//
// Section is comparable and used directly as a map key.
type Section struct {
	Kind  SectionKind
	Index int
	Seq   int
}

var (
	ExpandedPlot     = Section{Kind: KindExpandedPlot}
	ChaptersOverview = Section{Kind: KindOverview}
)

// Chapter returns the section for committed chapter n (1-based).
func Chapter(n int) Section { return Section{Kind: KindChapter, Index: n} }

// Fill returns the section for the seq-th pending insertion at position pos.
func Fill(pos, seq int) Section { return Section{Kind: KindFill, Index: pos, Seq: seq} }

// String renders the display name, which is also the wire name used in prompts.
func (s Section) String() string {
	switch s.Kind {
	case KindExpandedPlot:
		return expandedPlotName
	case KindOverview:
		return overviewName
	case KindChapter:
		return fmt.Sprintf("Chapter %d", s.Index)
	case KindFill:
		return fmt.Sprintf("Fill %d (#%d)", s.Index, s.Seq)
	}
	return "Unknown Section"
}

func (s Section) IsChapter() bool { return s.Kind == KindChapter }
func (s Section) IsFill() bool    { return s.Kind == KindFill }

var (
	chapterNameRe = regexp.MustCompile(`^Chapter\s+(\d+)$`)
	fillNameRe    = regexp.MustCompile(`^Fill\s+(\d+)\s+\(#(\d+)\)$`)
)

// ParseSection converts a display name back into a Section.
func ParseSection(name string) (Section, error) {
	name = strings.TrimSpace(name)
	switch name {
	case expandedPlotName:
		return ExpandedPlot, nil
	case overviewName:
		return ChaptersOverview, nil
	}
	if m := chapterNameRe.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return Section{}, fmt.Errorf("%w: %q", ErrUnknownSection, name)
		}
		return Chapter(n), nil
	}
	if m := fillNameRe.FindStringSubmatch(name); m != nil {
		pos, _ := strconv.Atoi(m[1])
		seq, _ := strconv.Atoi(m[2])
		if pos < 1 || seq < 1 {
			return Section{}, fmt.Errorf("%w: %q", ErrUnknownSection, name)
		}
		return Fill(pos, seq), nil
	}
	return Section{}, fmt.Errorf("%w: %q", ErrUnknownSection, name)
}

// Less orders sections the way revisions are applied: plot, overview,
// chapters ascending, then fills by position and sequence.
func Less(a, b Section) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Seq < b.Seq
}

// SortSections sorts in place using Less.
func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool { return Less(sections[i], sections[j]) })
}
