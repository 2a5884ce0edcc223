package memory

import (
	"fmt"
	"sort"
	"strings"
)

// maxPromptItems bounds how many items AugmentPrompt inlines.
const maxPromptItems = 10

// AugmentPrompt prefixes a task prompt with the digest's accumulated
// context: sunset notes from the previous session, the sunrise brief,
// progress breadcrumbs, and the most relevant items. Empty sections are
// omitted. The prompt itself always follows a "## Current Task" header so
// the model can tell context from instruction.
func (d *Digest) AugmentPrompt(prompt string) string {
	var b strings.Builder

	if d.sunsetNotes != "" {
		b.WriteString("## Previous Session Summary\n")
		b.WriteString(d.sunsetNotes)
		b.WriteString("\n\n")
	}
	if d.sunriseBrief != "" {
		b.WriteString("## Session Context\n")
		b.WriteString(d.sunriseBrief)
		b.WriteString("\n\n")
	}
	if len(d.breadcrumbs) > 0 {
		b.WriteString("## Progress Breadcrumbs\n")
		for _, crumb := range d.breadcrumbs {
			b.WriteString("- ")
			b.WriteString(crumb)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if selected := d.selectForPrompt(); len(selected) > 0 {
		b.WriteString("## Relevant Context\n")
		for _, item := range selected {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Type, item.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Current Task\n")
	b.WriteString(prompt)
	return b.String()
}

// selectForPrompt picks the items worth inlining: pinned items first, then
// by relevance score, capped at maxPromptItems. Insertion order breaks
// ties so output stays stable.
func (d *Digest) selectForPrompt() []Item {
	if len(d.items) == 0 {
		return nil
	}

	selected := make([]Item, len(d.items))
	copy(selected, d.items)
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Relevance.CIMarkedImportant != selected[j].Relevance.CIMarkedImportant {
			return selected[i].Relevance.CIMarkedImportant
		}
		return selected[i].Relevance.Score > selected[j].Relevance.Score
	})
	if len(selected) > maxPromptItems {
		selected = selected[:maxPromptItems]
	}
	return selected
}
