package overview

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// looseHeading matches a chapter number at a line start, with or without
// markdown heading or bold markers: "## Chapter 2", "**Chapter 2:", "Ch 2 -".
var looseHeading = regexp.MustCompile(`(?mi)^[ \t]*(?:#+[ \t]*|\*\*[ \t]*|__[ \t]*)?(?:chapter|ch\.?)[ \t]+(\d+)`)

// Check is one structural finding. For numbering, OK means valid; for
// deletions and additions, OK means nothing was detected.
type Check struct {
	OK     bool
	Reason string
}

// Report is the outcome of PostValidate.
type Report struct {
	Numbering Check
	Deleted   Check
	Added     Check
}

// Clean reports a report without any finding.
func (r Report) Clean() bool {
	return r.Numbering.OK && r.Deleted.OK && r.Added.OK
}

// Rejected reports findings that block an overview edit. Additions are
// informational only.
func (r Report) Rejected() bool {
	return !r.Numbering.OK || !r.Deleted.OK
}

// Summary joins the reasons of every finding.
func (r Report) Summary() string {
	var parts []string
	for _, c := range []Check{r.Numbering, r.Deleted, r.Added} {
		if !c.OK && c.Reason != "" {
			parts = append(parts, c.Reason)
		}
	}
	if len(parts) == 0 {
		return "OK"
	}
	return strings.Join(parts, "; ")
}

// ChapterNumbers lists the chapter numbers of every heading in order.
func ChapterNumbers(overview string) []int {
	var nums []int
	for _, m := range looseHeading.FindAllStringSubmatch(overview, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// PostValidate compares an edited overview against its previous version.
// When neither version has recognizable chapter lines there is nothing to
// number or count, and the report is clean.
func PostValidate(before, after string) Report {
	prev := ChapterNumbers(before)
	next := ChapterNumbers(after)

	r := Report{
		Numbering: Check{OK: true},
		Deleted:   Check{OK: true},
		Added:     Check{OK: true},
	}
	if len(prev) == 0 && len(next) == 0 {
		return r
	}
	r.Numbering = checkNumbering(next)
	switch {
	case len(next) < len(prev):
		r.Deleted = Check{Reason: fmt.Sprintf("chapters deleted: %d before, %d after", len(prev), len(next))}
	case len(next) > len(prev):
		r.Added = Check{Reason: fmt.Sprintf("chapters added: %d before, %d after", len(prev), len(next))}
	}
	return r
}

func checkNumbering(nums []int) Check {
	if len(nums) == 0 {
		return Check{Reason: "no chapter headings found"}
	}
	if nums[0] != 1 {
		return Check{Reason: fmt.Sprintf("numbering starts at %d", nums[0])}
	}
	seen := make(map[int]bool, len(nums))
	for i, n := range nums {
		if seen[n] {
			return Check{Reason: fmt.Sprintf("chapter %d appears twice", n)}
		}
		seen[n] = true
		if n != i+1 {
			return Check{Reason: fmt.Sprintf("expected chapter %d, found %d", i+1, n)}
		}
	}
	return Check{OK: true}
}
