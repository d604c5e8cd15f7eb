package preprocess

import (
	"fmt"
	"sort"
	"strings"
)

// ComposePurposeText builds the purpose embedding input. The README leads
// so that model truncation drops the description and topics first.
func ComposePurposeText(description string, topics []string, cleanedReadme string) string {
	var parts []string
	if cleanedReadme != "" {
		parts = append(parts, truncateRunes(cleanedReadme, MaxReadmeChars))
	}
	if description != "" {
		parts = append(parts, strings.TrimRight(description, "."))
	}
	if len(topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(topics, ", "))
	}
	return joinSentences(parts)
}

// ComposeStackText builds the stack embedding input. Languages are listed
// by share, highest first, with ties ordered by name.
func ComposeStackText(language string, languages map[string]float64, deps []string) string {
	var parts []string
	if language != "" {
		parts = append(parts, "Primary language: "+language)
	}
	if len(languages) > 0 {
		parts = append(parts, "Languages: "+formatLanguages(languages))
	}
	if len(deps) > 0 {
		parts = append(parts, "Dependencies: "+strings.Join(deps, ", "))
	}
	return joinSentences(parts)
}

func formatLanguages(languages map[string]float64) string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := languages[names[i]], languages[names[j]]
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})

	items := make([]string, len(names))
	for i, name := range names {
		items[i] = fmt.Sprintf("%s %.0f%%", name, languages[name])
	}
	return strings.Join(items, ", ")
}

func joinSentences(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}
