package textfilter

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// speakerPrefix matches a leading "Name:" label, optionally wrapped in
// markdown bold or brackets, as models often echo the transcript format.
var speakerPrefix = regexp.MustCompile(`^\s*(?:\*\*|\[)?([^\n:*\[\]]{1,64}?)(?:\*\*|\])?\s*:\s*(?:\*\*)?`)

// excessBlankLines matches three or more consecutive newlines.
var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// ResponseFilter cleans up model output before it becomes a chat message.
type ResponseFilter struct {
	fold cases.Caser
}

// NewResponseFilter creates a new response filter.
func NewResponseFilter() *ResponseFilter {
	return &ResponseFilter{
		fold: cases.Fold(),
	}
}

// Clean normalizes text to NFC, removes an echoed "{speaker}:" label
// for the given speaker, and trims surrounding whitespace.
func (f *ResponseFilter) Clean(speaker, text string) string {
	result := norm.NFC.String(text)
	result = f.StripSpeakerPrefix(speaker, result)
	result = excessBlankLines.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// StripSpeakerPrefix removes a leading label that names the speaker.
// Labels naming anyone else are kept. The comparison is case-insensitive.
func (f *ResponseFilter) StripSpeakerPrefix(speaker, text string) string {
	if speaker == "" {
		return text
	}
	m := speakerPrefix.FindStringSubmatchIndex(text)
	if m == nil {
		return text
	}
	label := strings.TrimSpace(text[m[2]:m[3]])
	if !f.SameName(label, speaker) {
		return text
	}
	return strings.TrimLeft(text[m[1]:], " \t")
}

// SameName reports whether two display names match after NFC
// normalization and case folding.
func (f *ResponseFilter) SameName(a, b string) bool {
	a = f.fold.String(norm.NFC.String(strings.TrimSpace(a)))
	b = f.fold.String(norm.NFC.String(strings.TrimSpace(b)))
	return a == b
}
