package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIsolatedDocumentsFormSingletonCommunities(t *testing.T) {
	assignment := Assign([]int64{1, 2, 3}, nil)
	require.Len(t, assignment, 3)
	assert.Equal(t, 3, Count(assignment))
	assert.NotEqual(t, assignment[1], assignment[2])
	assert.NotEqual(t, assignment[2], assignment[3])
}

func TestAssignConnectedComponentsShareCommunity(t *testing.T) {
	edges := []Edge{{SourceID: 1, TargetID: 2}, {SourceID: 2, TargetID: 3}}
	assignment := Assign([]int64{1, 2, 3, 4}, edges)
	assert.Equal(t, assignment[1], assignment[2])
	assert.Equal(t, assignment[2], assignment[3])
	assert.NotEqual(t, assignment[1], assignment[4])
	assert.Equal(t, 2, Count(assignment))
}

func TestAssignHandlesCyclicRelationsWithoutHanging(t *testing.T) {
	edges := []Edge{{SourceID: 1, TargetID: 2}, {SourceID: 2, TargetID: 3}, {SourceID: 3, TargetID: 1}}
	assignment := Assign([]int64{1, 2, 3}, edges)
	assert.Equal(t, 1, Count(assignment))
}

func TestAssignIDsAreSequentialFromZero(t *testing.T) {
	assignment := Assign([]int64{5, 9, 12}, nil)
	seen := map[int32]bool{}
	for _, cid := range assignment {
		seen[cid] = true
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}
