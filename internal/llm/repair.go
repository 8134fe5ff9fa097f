package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// The generation backend occasionally emits near-valid JSON: dropped commas,
// stray control bytes, unclosed braces, markdown fences. The repair pass
// patches those specific defects and nothing more. It is lossy and
// best-effort by design; it can corrupt string content that legitimately
// contains brace or quote sequences, so it only ever runs after a strict
// parse has failed.

var (
	controlChars    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
	openingFence    = regexp.MustCompile("^```(?:json)?[ \t]*\n?")
	closingFence    = regexp.MustCompile("\n?[ \t]*```[ \t]*$")
	trailingComma   = regexp.MustCompile(`,\s*([}\]])`)
	braceThenString = regexp.MustCompile(`(})\s*(")`)
	brackThenString = regexp.MustCompile(`(])\s*(")`)
	// "value"\n"next" — adjacent string tokens split across lines.
	stringThenString = regexp.MustCompile("(\")[ \t]*\n[ \t]*(\")")
)

// CleanControlChars replaces invalid control characters that break the JSON
// decoder with spaces.
func CleanControlChars(text string) string {
	return controlChars.ReplaceAllString(text, " ")
}

// Repair attempts to patch malformed JSON returned by the backend:
// control characters, markdown code fences, trailing commas, missing commas
// between adjacent tokens, and unbalanced braces/brackets.
func Repair(text string) string {
	s := strings.TrimSpace(CleanControlChars(text))

	if strings.HasPrefix(s, "```") {
		s = openingFence.ReplaceAllString(s, "")
		s = closingFence.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
	}

	s = trailingComma.ReplaceAllString(s, "$1")

	s = braceThenString.ReplaceAllString(s, "$1,$2")
	s = brackThenString.ReplaceAllString(s, "$1,$2")
	s = stringThenString.ReplaceAllString(s, "$1,$2")

	return s + closeUnbalanced(s)
}

// closeUnbalanced returns the closing tokens needed to balance every brace
// and bracket left open in s, innermost first. Openers inside string
// literals are ignored.
func closeUnbalanced(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			stack = append(stack, c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	closing := make([]byte, 0, len(stack)+1)
	if inString {
		closing = append(closing, '"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closing = append(closing, '}')
		} else {
			closing = append(closing, ']')
		}
	}
	return string(closing)
}

// ErrUnparseable indicates text could not be parsed even after repair.
var ErrUnparseable = errors.New("llm: output unparseable after repair")

// SafeParse returns JSON text that is guaranteed to parse: the cleaned input
// when it is already valid, otherwise the repaired form. The boolean reports
// whether the repair pass was needed.
func SafeParse(text string) (string, bool, error) {
	cleaned := CleanControlChars(text)
	if json.Valid([]byte(cleaned)) {
		return cleaned, false, nil
	}

	repaired := Repair(text)
	if json.Valid([]byte(repaired)) {
		return repaired, true, nil
	}
	return "", true, ErrUnparseable
}

// DecodeObject unmarshals raw into v. The backend sometimes wraps a single
// object in a one-element array; that wrapper is unwrapped transparently.
func DecodeObject(raw json.RawMessage, v any) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			if len(items) == 0 {
				return errors.New("llm: empty array where object expected")
			}
			return json.Unmarshal(items[0], v)
		}
	}
	return json.Unmarshal([]byte(trimmed), v)
}
