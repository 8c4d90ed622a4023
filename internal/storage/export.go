package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// ExportMarkdown renders the committed state as a manuscript: a metadata
// header, the blueprint and overview, then every chapter in order.
func ExportMarkdown(name string, st story.State, now time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", name)
	fmt.Fprintf(&sb, "**Genre**: %s\n", st.Genre)
	fmt.Fprintf(&sb, "**Chapters**: %d of %d\n", len(st.ChaptersFull), st.NumChapters)
	fmt.Fprintf(&sb, "**Exported**: %s\n\n", now.Format("2006-01-02 15:04:05"))

	if st.Plot != "" {
		fmt.Fprintf(&sb, "## Premise\n\n%s\n\n", strings.TrimSpace(st.Plot))
	}
	if st.HasExpandedPlot() {
		fmt.Fprintf(&sb, "## Story Blueprint\n\n%s\n\n", strings.TrimSpace(st.ExpandedPlot))
	}
	if st.HasOverview() {
		fmt.Fprintf(&sb, "## Chapters Overview\n\n%s\n\n", strings.TrimSpace(st.ChaptersOverview))
	}
	for i, ch := range st.ChaptersFull {
		text := strings.TrimSpace(ch)
		if !strings.HasPrefix(text, "#") {
			fmt.Fprintf(&sb, "## Chapter %d\n\n", i+1)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return []byte(strings.TrimRight(sb.String(), "\n") + "\n")
}
