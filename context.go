package ragpg

import (
	"fmt"
	"strings"
)

// BuildContext renders results as "[1] <title>\n<text>\n\n[2] ..." with
// trailing whitespace trimmed, for direct use as an LLM prompt context.
func BuildContext(results []SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, r.Title, r.Text)
	}
	return strings.TrimRight(sb.String(), " \t\n")
}

// RelationLine is one edge rendered by BuildGraphContext.
type RelationLine struct {
	SourceTitle string
	TargetTitle string
	Type        *string
}

// BuildGraphContext prepends a "=== Document Relations ===" block to
// BuildContext's output when relations is non-empty; returns exactly
// BuildContext(results) when relations is empty.
func BuildGraphContext(results []SearchResult, relations []RelationLine) string {
	if len(relations) == 0 {
		return BuildContext(results)
	}

	var sb strings.Builder
	sb.WriteString("=== Document Relations ===\n")
	for _, rel := range relations {
		if rel.Type != nil {
			fmt.Fprintf(&sb, "%s → %s [%s]\n", rel.SourceTitle, rel.TargetTitle, *rel.Type)
		} else {
			fmt.Fprintf(&sb, "%s → %s\n", rel.SourceTitle, rel.TargetTitle)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(BuildContext(results))
	return sb.String()
}
