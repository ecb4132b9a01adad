package ragpg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIfTextAcceptsPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	content, ok, err := readIfText(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world", content)
}

func TestReadIfTextRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0xFF, 0xFE}, 0o644))

	_, ok, err := readIfText(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNormalizeMarkdownTrimsTrailingWhitespaceAndCollapsesBlankLines(t *testing.T) {
	input := "Heading   \n\n\n\n\nBody text\t\n"
	got := NormalizeMarkdown(input)
	assert.NotContains(t, got, "   \n")
	assert.NotContains(t, got, "\n\n\n\n")
}
