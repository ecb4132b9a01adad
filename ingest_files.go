package ragpg

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// IngestFiles walks root and calls Ingest with one Document per text file
// found, skipping binaries via content sniffing. Sugar over Ingest, not a
// new core operation — grounded on the teacher's FileReader.Stream/isBinary
// pair (internal/documents/reader.go).
func (h *Handle) IngestFiles(ctx context.Context, root string, cfg IngestConfig) (IngestResult, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, ok, err := readIfText(path)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		docs = append(docs, Document{Title: rel, Content: content})
		return nil
	})
	if err != nil {
		return IngestResult{}, &ConfigError{Field: "root", Msg: err.Error()}
	}
	return h.Ingest(ctx, docs, cfg)
}

func readIfText(path string) (string, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	peek, _ := r.Peek(512 * 1024)
	if isBinary(peek) {
		return "", false, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func isBinary(buf []byte) bool {
	if strings.ContainsRune(string(buf), '\x00') {
		return true
	}
	ct := http.DetectContentType(buf)
	return !strings.HasPrefix(ct, "text/") && ct != "application/json"
}

// NormalizeMarkdown is a conservative default for the chunker's optional
// normalize hook: strips trailing whitespace per line and collapses 3+
// blank lines to 2.
func NormalizeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	joined := strings.Join(lines, "\n")

	for strings.Contains(joined, "\n\n\n\n") {
		joined = strings.ReplaceAll(joined, "\n\n\n\n", "\n\n\n")
	}
	return joined
}
