// Package jsonx recovers JSON payloads from model replies.
package jsonx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Strategy names the step that recovered a payload.
type Strategy string

const (
	Strict   Strategy = "strict"
	Sentinel Strategy = "sentinel"
	Repair   Strategy = "repair"
	Slice    Strategy = "slice"
)

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")
	tagRe   = regexp.MustCompile(`(?is)<(json|output|result|response|answer)>\s*(.*?)\s*</(?:json|output|result|response|answer)>`)
	markRe  = regexp.MustCompile(`(?s)(?:BEGIN_JSON|JSON_START)\s*(.*?)\s*(?:END_JSON|JSON_END)`)
)

// Extract parses raw into a JSON object.
func Extract(raw string) (map[string]any, error) {
	out, _, err := DecodeWith[map[string]any](raw)
	return out, err
}

// Decode parses raw into T trying, in order, a strict parse, a parse after
// stripping framing markers, a tolerant repair and finally the slice between
// the first '{' and the last '}'.
func Decode[T any](raw string) (T, error) {
	out, _, err := DecodeWith[T](raw)
	return out, err
}

// DecodeWith is Decode that also reports the winning strategy.
func DecodeWith[T any](raw string) (T, Strategy, error) {
	var out T
	text := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))

	if try(text, &out) {
		return out, Strict, nil
	}

	stripped, framed := stripSentinels(text)
	if framed && try(stripped, &out) {
		return out, Sentinel, nil
	}

	if try(repair(stripped), &out) {
		return out, Repair, nil
	}

	if sliced, ok := braceSlice(text); ok {
		if try(sliced, &out) || try(repair(sliced), &out) {
			return out, Slice, nil
		}
	}

	return out, "", fmt.Errorf("%w: %s", story.ErrMalformedJSON, preview(text))
}

func try[T any](text string, out *T) bool {
	if text == "" || !json.Valid([]byte(text)) {
		return false
	}
	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return false
	}
	*out = v
	return true
}

func stripSentinels(text string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := tagRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2]), true
	}
	if m := markRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return text, false
}

func braceSlice(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func preview(text string) string {
	const limit = 120
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
