// Package interpret turns free text (alert messages and voice transcripts)
// into typed signals and commands, using a language model for the heavy
// lifting and repairing the JSON it returns.
package interpret

import (
	"regexp"
	"strings"
)

var (
	fenceRe = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*(.*?)\\s*```\\s*$")
	// An object value such as `: 64,800` or `: 1,234,567.5`.
	thousandsRe = regexp.MustCompile(`:\s*-?\d{1,3}(?:,\d{3})+(?:\.\d+)?\s*[,}]`)
	// An array run such as `[67,000]` or `, 1,050,000`. JSON numbers never
	// start with 0, so a zero-led group marks a separator; [150,155] and
	// [64,800] carry no such group and stay as written.
	arrayThousandsRe = regexp.MustCompile(`([\[,]\s*)(-?\d{1,3})((?:,\s*\d{3})*,\s*0\d{2}(?:,\s*\d{3})*)\b`)
)

// Repair cleans common defects from model-produced JSON: markdown code
// fences, prose around the object, thousand separators inside numbers, and
// trailing commas before a closing bracket. Text inside string literals is
// left alone. Inside arrays only runs with a zero-led group are merged.
func Repair(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = extractJSON(s)
	s = rewriteOutsideStrings(s, func(seg string) string {
		seg = thousandsRe.ReplaceAllStringFunc(seg, func(m string) string {
			// Keep the delimiter that closed the match.
			last := len(m) - 1
			return strings.ReplaceAll(m[:last], ",", "") + m[last:]
		})
		return arrayThousandsRe.ReplaceAllStringFunc(seg, func(m string) string {
			sub := arrayThousandsRe.FindStringSubmatch(m)
			return sub[1] + sub[2] + strings.Join(strings.FieldsFunc(sub[3], func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
			}), "")
		})
	})
	return dropTrailingCommas(s)
}

// extractJSON trims leading and trailing prose around the outermost object
// or array.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// rewriteOutsideStrings applies fn to every run of text that is not inside a
// JSON string literal.
func rewriteOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	segStart := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(fn(s[segStart:i]))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(fn(s[segStart:]))
	}
	return b.String()
}

// dropTrailingCommas removes a comma that is followed only by whitespace and
// then a closing brace or bracket.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
