package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashMatchesConcatenation(t *testing.T) {
	title, content := "Hello", "World"
	sum := sha256.Sum256([]byte(title + content))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, ContentHash(title, content))
}

func TestTextHashIsDeterministic(t *testing.T) {
	assert.Equal(t, TextHash("abc"), TextHash("abc"))
	assert.NotEqual(t, TextHash("abc"), TextHash("abd"))
}

func TestContentHashIsPlainConcatenation(t *testing.T) {
	assert.Equal(t, ContentHash("ab", "c"), ContentHash("a", "bc"))
}
