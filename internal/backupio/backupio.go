// Package backupio implements the line-delimited JSON backup file codec:
// one document per line, UTF-8, newline-terminated, plus the tagged-union
// relation-target normalizer (a relation is either a bare title string or an
// object with optional type/weight). Grounded on the teacher's JSON-heavy
// persistence helpers (internal/sefii uses encoding/json throughout for
// payload marshaling) — no third-party JSON library is warranted here since
// encoding/json with custom (Un)MarshalJSON is the idiomatic way to model a
// tagged union in Go, and the pack carries no JSON-schema/tagged-union
// library that would do this better.
package backupio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// RelationTarget is the normalized form of a relation, accepting either a
// bare title string or an object {title, type?, weight?} on unmarshal.
type RelationTarget struct {
	Title  string
	Type   *string
	Weight *float64
}

type relationObject struct {
	Title  string   `json:"title"`
	Type   *string  `json:"type,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

// UnmarshalJSON accepts either a JSON string or a {title,type?,weight?} object.
func (r *RelationTarget) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		r.Title = asString
		r.Type = nil
		r.Weight = nil
		return nil
	}
	var obj relationObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("relation target neither string nor object: %w", err)
	}
	r.Title = obj.Title
	r.Type = obj.Type
	r.Weight = obj.Weight
	return nil
}

// MarshalJSON always emits the object form; weight is omitted when equal to
// 1.0 or unset, per the backup format's compatibility note.
func (r RelationTarget) MarshalJSON() ([]byte, error) {
	obj := relationObject{Title: r.Title, Type: r.Type}
	if r.Weight != nil && *r.Weight != 1.0 {
		obj.Weight = r.Weight
	}
	return json.Marshal(obj)
}

// WeightOrDefault returns the relation's weight, defaulting to 1.0.
func (r RelationTarget) WeightOrDefault() float64 {
	if r.Weight == nil {
		return 1.0
	}
	return *r.Weight
}

// Chunk is one chunk entry inside a backup document line.
type Chunk struct {
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	StartIndex int       `json:"startIndex"`
	EndIndex   int       `json:"endIndex"`
	TokenCount int       `json:"tokenCount"`
}

// Record is one backup line: a document, its chunks, and its relations.
type Record struct {
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	ContentHash string           `json:"contentHash"`
	Metadata    map[string]any   `json:"metadata"`
	CommunityID *int32           `json:"communityId,omitempty"`
	Chunks      []Chunk          `json:"chunks"`
	Relations   []RelationTarget `json:"relations"`
}

// recordAlias lets MarshalJSON reuse Record's field tags without recursing.
type recordAlias Record

// MarshalJSON always emits "chunks" and "relations" as JSON arrays ("[]" when
// empty), never "null" — a document whose chunker output was fully filtered
// (e.g. every candidate chunk fell under the minimum length) must still
// serialize per spec.md §6's documented array shape.
func (r Record) MarshalJSON() ([]byte, error) {
	alias := recordAlias(r)
	if alias.Chunks == nil {
		alias.Chunks = []Chunk{}
	}
	if alias.Relations == nil {
		alias.Relations = []RelationTarget{}
	}
	return json.Marshal(alias)
}

// Truncate overwrites path with empty content, creating it if absent.
func Truncate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("backupio.Truncate: %w", err)
	}
	return f.Close()
}

// Append opens the file, writes one JSON line for rec terminated by "\n",
// and flushes. Concurrent writers are not supported, per the single
// backup-file-handle resource model.
func Append(path string, rec Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("backupio.Append: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("backupio.Append: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("backupio.Append: write: %w", err)
	}
	return nil
}

// LineResult pairs a parsed record with any parse/validation error for its
// source line; Record is the zero value when Err is non-nil.
type LineResult struct {
	LineNo int
	Record Record
	Err    error
}

// ReadAll parses every non-empty line of path as a backup Record, returning
// one LineResult per non-empty line in file order.
func ReadAll(path string) ([]LineResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backupio.ReadAll: open: %w", err)
	}
	defer f.Close()

	var results []LineResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			results = append(results, LineResult{LineNo: lineNo, Err: fmt.Errorf("line %d: %w", lineNo, err)})
			continue
		}
		results = append(results, LineResult{LineNo: lineNo, Record: rec})
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return results, fmt.Errorf("backupio.ReadAll: scan: %w", err)
	}
	return results, nil
}
