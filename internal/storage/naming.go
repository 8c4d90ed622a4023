package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Naming selects how a new project's file name is derived.
type Naming int

const (
	// NamingID uses the project ID as is.
	NamingID Naming = iota
	// NamingTimestamp prefixes a short ID with the creation time.
	NamingTimestamp
	// NamingDescriptive adds a slug of the plot between time and short ID.
	NamingDescriptive
)

// ParseNaming accepts "id", "timestamp" or "descriptive".
func ParseNaming(s string) (Naming, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "id", "uuid":
		return NamingID, nil
	case "timestamp":
		return NamingTimestamp, nil
	case "descriptive":
		return NamingDescriptive, nil
	}
	return NamingID, fmt.Errorf("unknown project naming %q", s)
}

// ProjectName names a new project, e.g. 2025-07-16_1530_a-child-finds-a-door_82f06b15.
func ProjectName(id, plot string, naming Naming, now time.Time) string {
	shortID := id
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	stamp := now.Format("2006-01-02_1504")

	switch naming {
	case NamingTimestamp:
		return fmt.Sprintf("%s_%s", stamp, shortID)
	case NamingDescriptive:
		return fmt.Sprintf("%s_%s_%s", stamp, slug(plot, 30), shortID)
	default:
		return id
	}
}

// slug lowercases s and keeps letters and digits, joining words with single
// hyphens, truncated to maxLen.
func slug(s string, maxLen int) string {
	var sb strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
			hyphen = false
		case unicode.IsSpace(r) || strings.ContainsRune("-_/\\.:", r):
			if !hyphen && sb.Len() > 0 {
				sb.WriteByte('-')
				hyphen = true
			}
		}
	}
	out := strings.Trim(sb.String(), "-")
	if len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	if out == "" {
		out = "story"
	}
	return out
}
