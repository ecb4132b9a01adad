package ragpg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildContextNumbersResultsAndTrimsTrailingWhitespace(t *testing.T) {
	results := []SearchResult{
		{Title: "First", Text: "alpha"},
		{Title: "Second", Text: "beta"},
	}
	got := BuildContext(results)
	assert.Equal(t, "[1] First\nalpha\n\n[2] Second\nbeta", got)
}

func TestBuildGraphContextWithoutRelationsEqualsBuildContext(t *testing.T) {
	results := []SearchResult{{Title: "A", Text: "x"}}
	assert.Equal(t, BuildContext(results), BuildGraphContext(results, nil))
}

func TestBuildGraphContextWithRelationsPrependsBlock(t *testing.T) {
	results := []SearchResult{{Title: "A", Text: "x"}}
	relType := "cites"
	relations := []RelationLine{{SourceTitle: "A", TargetTitle: "B", Type: &relType}}
	got := BuildGraphContext(results, relations)
	assert.Contains(t, got, "=== Document Relations ===")
	assert.Contains(t, got, "A → B [cites]")
	assert.Contains(t, got, BuildContext(results))
}

func TestBuildGraphContextOmitsTypeWhenNil(t *testing.T) {
	results := []SearchResult{{Title: "A", Text: "x"}}
	relations := []RelationLine{{SourceTitle: "A", TargetTitle: "B"}}
	got := BuildGraphContext(results, relations)
	assert.Contains(t, got, "A → B\n")
}
