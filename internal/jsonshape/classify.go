// Package jsonshape classifies and validates free-form model output
// against expected structured shapes.
//
// Two deliberately divergent rule sets operate on the same raw text. The
// tolerant classifier salvages JSON from prose and code fences and backs
// the live per-item badges; strict validation asserts the whole text is
// compliant and backs the explicit user-triggered check. They are kept as
// separate entry points on purpose: strict mode measures compliance, the
// classifier measures recoverability.
package jsonshape

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Reasons reported when classification or validation fails.
const (
	ReasonNoJSON      = "no json-like content"
	ReasonParseFailed = "json-like content found but unparsable"
	ReasonNotStrict   = "text is not a single json document"
)

// Result is the outcome of a classification or validation. It is always a
// value, never a panic or error: callers render Reason inline per item.
type Result struct {
	OK     bool
	Reason string
	Value  any
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\n(.*?)```")

// Classify tries to recover a JSON document from raw model output. It
// tries, in order: the whole trimmed text when its outer brackets match,
// the contents of each fenced code block, and the substring from the first
// opening bracket to the last matching closer. The first candidate that
// parses wins.
func Classify(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Reason: ReasonNoJSON}
	}

	var candidates []string
	if outerBracketsMatch(trimmed) {
		candidates = append(candidates, trimmed)
	}
	for _, m := range fenceRe.FindAllStringSubmatch(trimmed, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if sub, ok := bracketSlice(trimmed); ok {
		candidates = append(candidates, sub)
	}

	if len(candidates) == 0 {
		// An opening bracket with no matching closer is json-like content
		// that failed to parse, not an absence of content.
		if strings.ContainsAny(trimmed, "{[") {
			return Result{Reason: ReasonParseFailed}
		}
		return Result{Reason: ReasonNoJSON}
	}
	for _, c := range candidates {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err == nil {
			return Result{OK: true, Value: v}
		}
	}
	return Result{Reason: ReasonParseFailed}
}

// ValidateStrict checks that the entire trimmed text, optionally wrapped in
// exactly one fenced code block, is itself a JSON document. No substring
// salvage: inputs the tolerant classifier accepts may still fail here.
func ValidateStrict(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Reason: ReasonNotStrict}
	}

	if strings.HasPrefix(trimmed, "```") {
		m := fenceRe.FindStringSubmatch(trimmed)
		if m == nil || m[0] != trimmed {
			return Result{Reason: ReasonNotStrict}
		}
		trimmed = strings.TrimSpace(m[1])
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return Result{Reason: ReasonNotStrict}
	}
	return Result{OK: true, Value: v}
}

func outerBracketsMatch(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

// bracketSlice returns the substring from the first opening bracket to the
// last occurrence of its closer.
func bracketSlice(s string) (string, bool) {
	objIdx := strings.IndexByte(s, '{')
	arrIdx := strings.IndexByte(s, '[')

	start, closer := objIdx, byte('}')
	if start < 0 || (arrIdx >= 0 && arrIdx < start) {
		start, closer = arrIdx, ']'
	}
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}
