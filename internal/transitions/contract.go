// Package transitions plans per-chapter transition contracts: how each
// chapter picks up from the previous ones and what it hands over.
package transitions

import (
	"fmt"
	"strings"
)

type Anchor struct {
	FromChapter       int    `json:"from_chapter" validate:"gte=0"`
	ResumeFromChapter int    `json:"resume_from_chapter" validate:"gte=0"`
	Trigger           string `json:"trigger"`
}

type EntryConstraints struct {
	TemporalContext string   `json:"temporal_context"`
	POV             string   `json:"pov" validate:"required"`
	NarrativePerson string   `json:"narrative_person"`
	PickupState     string   `json:"pickup_state"`
	DoNotExplain    []string `json:"do_not_explain"`
}

type ExitPayload struct {
	LastBeat       string   `json:"last_beat" validate:"required"`
	CarryoverFacts []string `json:"carryover_facts"`
	OpenThreads    []string `json:"open_threads"`
	ThematicEcho   string   `json:"thematic_echo"`
}

// Contract constrains how one chapter begins and ends.
type Contract struct {
	Chapter       int              `json:"chapter" validate:"gte=1"`
	Type          string           `json:"transition_type" validate:"required,oneof=direct return flashback parallel pov_switch time_skip first_chapter"`
	ThreadID      string           `json:"thread_id" validate:"required"`
	Anchor        Anchor           `json:"anchor"`
	Entry         EntryConstraints `json:"entry_constraints"`
	Exit          ExitPayload      `json:"exit_payload"`
	NewCharacters []string         `json:"new_characters"`
}

// Clause renders the contract as prompt text.
func (c Contract) Clause() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- transition type: %s (thread %s)\n", c.Type, c.ThreadID)
	if c.Anchor.FromChapter > 0 || c.Anchor.ResumeFromChapter > 0 || c.Anchor.Trigger != "" {
		fmt.Fprintf(&sb, "- anchor: from chapter %d, resume from chapter %d", c.Anchor.FromChapter, c.Anchor.ResumeFromChapter)
		if c.Anchor.Trigger != "" {
			fmt.Fprintf(&sb, ", trigger: %s", c.Anchor.Trigger)
		}
		sb.WriteString("\n")
	}
	writeField(&sb, "temporal context", c.Entry.TemporalContext)
	writeField(&sb, "point of view", c.Entry.POV)
	writeField(&sb, "narrative person", c.Entry.NarrativePerson)
	writeField(&sb, "pick up from", c.Entry.PickupState)
	writeList(&sb, "do not re-explain", c.Entry.DoNotExplain)
	writeField(&sb, "end on", c.Exit.LastBeat)
	writeList(&sb, "carry over", c.Exit.CarryoverFacts)
	writeList(&sb, "leave open", c.Exit.OpenThreads)
	writeField(&sb, "thematic echo", c.Exit.ThematicEcho)
	writeList(&sb, "new characters", c.NewCharacters)
	return strings.TrimRight(sb.String(), "\n")
}

func writeField(sb *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(sb, "- %s: %s\n", label, value)
	}
}

func writeList(sb *strings.Builder, label string, values []string) {
	if len(values) > 0 {
		fmt.Fprintf(sb, "- %s: %s\n", label, strings.Join(values, "; "))
	}
}

// For returns the contract of chapter k, if planned.
func For(plan []Contract, k int) (Contract, bool) {
	if k < 1 || k > len(plan) {
		return Contract{}, false
	}
	return plan[k-1], true
}

// ClauseFor renders chapter k's contract, or "" when none exists.
func ClauseFor(plan []Contract, k int) string {
	c, ok := For(plan, k)
	if !ok {
		return ""
	}
	return c.Clause()
}
