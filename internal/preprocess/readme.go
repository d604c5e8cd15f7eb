// Package preprocess turns raw repository content into the two texts that
// get embedded: the purpose text and the stack text.
//
// All functions are pure and deterministic.
package preprocess

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxReadmeChars bounds the cleaned README, in runes.
const MaxReadmeChars = 1800

var (
	imageLink    = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	badgeLine    = regexp.MustCompile(`(?i)shields\.io|img\.shields|badge\.fury|codecov\.io|travis-ci|badge|github\.com/.+/(badge|actions)`)
	linkOnlyLine = regexp.MustCompile(`^\s*\[.*\]\(.*\)\s*$`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	htmlTag      = regexp.MustCompile(`<[A-Za-z/!?][^<>]*>`)

	strict = bluemonday.StrictPolicy()
)

// CleanReadme strips markup noise from a README and bounds its length.
func CleanReadme(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicy escapes the text it keeps.
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = html.UnescapeString(strict.Sanitize(escapeStrayAngles(text)))
	text = imageLink.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if badgeLine.MatchString(line) || linkOnlyLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	return truncateRunes(text, MaxReadmeChars)
}

// escapeStrayAngles escapes every "<" that does not open a closed tag, so the
// HTML tokenizer cannot swallow text like "Vec<T" or "i<n" up to EOF.
func escapeStrayAngles(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range htmlTag.FindAllStringIndex(s, -1) {
		b.WriteString(strings.ReplaceAll(s[last:m[0]], "<", "&lt;"))
		b.WriteString(s[m[0]:m[1]])
		last = m[1]
	}
	b.WriteString(strings.ReplaceAll(s[last:], "<", "&lt;"))
	return b.String()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
