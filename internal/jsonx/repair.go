package jsonx

import (
	"encoding/json"
	"strings"
)

// repair rewrites the common defects of model-produced JSON: Python style
// triple-quoted strings, raw control characters inside strings and trailing
// commas before a closing bracket.
func repair(text string) string {
	text = replaceTripleQuotes(text)

	var sb strings.Builder
	sb.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				sb.WriteByte(c)
			case c == '\\':
				escaped = true
				sb.WriteByte(c)
			case c == '"':
				inString = false
				sb.WriteByte(c)
			case c == '\n':
				sb.WriteString(`\n`)
			case c == '\r':
				sb.WriteString(`\r`)
			case c == '\t':
				sb.WriteString(`\t`)
			default:
				sb.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			sb.WriteByte(c)
		case ',':
			if next := nextSignificant(text, i+1); next == '}' || next == ']' {
				continue
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func nextSignificant(text string, from int) byte {
	for j := from; j < len(text); j++ {
		switch text[j] {
		case ' ', '\n', '\r', '\t':
			continue
		default:
			return text[j]
		}
	}
	return 0
}

// replaceTripleQuotes turns every """...""" run into a properly escaped JSON
// string literal.
func replaceTripleQuotes(text string) string {
	const tq = `"""`
	if !strings.Contains(text, tq) {
		return text
	}

	var sb strings.Builder
	for {
		start := strings.Index(text, tq)
		if start < 0 {
			sb.WriteString(text)
			break
		}
		end := strings.Index(text[start+len(tq):], tq)
		if end < 0 {
			sb.WriteString(text)
			break
		}
		body := text[start+len(tq) : start+len(tq)+end]
		quoted, _ := json.Marshal(body)

		sb.WriteString(text[:start])
		sb.Write(quoted)
		text = text[start+len(tq)+end+len(tq):]
	}
	return sb.String()
}
