package speech

import (
	"regexp"
	"strings"
)

// Normalization is regex-driven and applied in a fixed order: emphasis
// markers must be unwrapped before generic tag stripping, and entities
// must be decoded with &amp; last to avoid double-unescaping.
var (
	boldLabelPattern  = regexp.MustCompile(`\*\*([^*]+):\*\*`)
	boldPattern       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*]+)\*`)
	underscorePattern = regexp.MustCompile(`_([^_]+)_`)
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// entityReplacements decodes the five HTML entities commonly left behind by
// the comic generation pipeline. Order matters: &amp; is decoded last.
var entityReplacements = []struct {
	entity  string
	literal string
}{
	{"&quot;", `"`},
	{"&apos;", "'"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
}

// Normalize produces speech-safe text from panel dialogue or narration.
// It strips emphasis markers and markup tags, decodes entities, collapses
// whitespace, and removes one outer quote pair. The result is never nil;
// an empty string means there is nothing speakable. Normalize is pure,
// and malformed markup degrades gracefully instead of erroring.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	cleaned := strings.TrimSpace(text)

	// Emphasis markers first: **Watson:** reads as "asterisk asterisk
	// Watson" if it reaches the synthesizer.
	cleaned = boldLabelPattern.ReplaceAllString(cleaned, "$1:")
	cleaned = boldPattern.ReplaceAllString(cleaned, "$1")
	cleaned = italicPattern.ReplaceAllString(cleaned, "$1")
	cleaned = underscorePattern.ReplaceAllString(cleaned, "$1")

	// Remaining XML/HTML tag markers.
	cleaned = tagPattern.ReplaceAllString(cleaned, "")

	for _, r := range entityReplacements {
		cleaned = strings.ReplaceAll(cleaned, r.entity, r.literal)
	}

	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	cleaned = stripOuterQuotes(cleaned, '"')
	cleaned = stripOuterQuotes(cleaned, '\'')

	return cleaned
}

// stripOuterQuotes removes exactly one matching outer pair of the given
// quote character. Nested pairs are left alone.
func stripOuterQuotes(s string, quote byte) string {
	if len(s) >= 2 && s[0] == quote && s[len(s)-1] == quote {
		return s[1 : len(s)-1]
	}
	return s
}
