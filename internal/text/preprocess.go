// Package text cleans and validates candidate spans before they are allowed
// to reach speech synthesis. Response models frequently emit markdown
// formatting, stray list markers and punctuation-only fragments; synthesizing
// those wastes a costly TTS call and produces audible garbage.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	strongMarkup   = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	emphasisMarkup = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	headingMarker  = regexp.MustCompile(`^#{1,6}\s*`)
	bulletMarker   = regexp.MustCompile(`^[-*•]\s+|^[-*•]$`)
	colonRun       = regexp.MustCompile(`:{2,}`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Clean normalizes a raw text span for synthesis: trims whitespace, unwraps
// emphasis markup keeping the inner text, strips heading and leading bullet
// markers, collapses runs of colons to one, drops a lone trailing colon and
// collapses whitespace runs to single spaces.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strongMarkup.ReplaceAllString(s, "$1$2")
	s = emphasisMarkup.ReplaceAllString(s, "$1$2")
	s = headingMarker.ReplaceAllString(s, "")
	s = bulletMarker.ReplaceAllString(s, "")

	// A single trailing colon reads as a label and is dropped. A run of
	// colons collapses to one and the survivor is kept.
	if strings.HasSuffix(s, ":") && !strings.HasSuffix(s, "::") {
		s = strings.TrimSuffix(s, ":")
	}
	s = colonRun.ReplaceAllString(s, ":")
	s = spaceRun.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// IsSpeakable reports whether text is worth sending to the synthesizer.
// Empty strings, whitespace, and spans made solely of punctuation (a lone
// dash or asterisk run, stray colons) are rejected, as is anything shorter
// than minLength after cleaning.
func IsSpeakable(text string, minLength int) bool {
	cleaned := Clean(text)
	if cleaned == "" {
		return false
	}

	hasAlnum := false
	for _, r := range cleaned {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	if !hasAlnum {
		return false
	}

	return utf8.RuneCountInString(cleaned) >= minLength
}
