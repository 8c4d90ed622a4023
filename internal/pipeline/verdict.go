package pipeline

import (
	"strings"
)

// Verdict is the outcome of a validator reply.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictOK
	VerdictNotOK
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "OK"
	case VerdictNotOK:
		return "NOT OK"
	default:
		return "UNKNOWN"
	}
}

// ParseVerdict reads the first non-empty line of a validator reply. It must
// start with OK or NOT OK; everything after that is feedback.
func ParseVerdict(reply string) (Verdict, string) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	for i, line := range lines {
		head := strings.ToUpper(strings.Trim(strings.TrimSpace(line), "*_#`:.> "))
		if head == "" {
			continue
		}
		rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		switch {
		case strings.HasPrefix(head, "NOT OK"):
			return VerdictNotOK, joinFeedback(trimVerdict(line, "NOT OK"), rest)
		case strings.HasPrefix(head, "OK"):
			return VerdictOK, joinFeedback(trimVerdict(line, "OK"), rest)
		default:
			return VerdictUnknown, strings.TrimSpace(reply)
		}
	}
	return VerdictUnknown, ""
}

func trimVerdict(line, word string) string {
	idx := strings.Index(strings.ToUpper(line), word)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(strings.Trim(line[idx+len(word):], "*_:.- "))
}

func joinFeedback(head, rest string) string {
	switch {
	case head == "":
		return rest
	case rest == "":
		return head
	default:
		return head + "\n" + rest
	}
}
