// Package backup implements export/validate/import of the line-delimited
// JSON backup format over the backupio codec. Grounded on the teacher's
// pgx/v5 query idioms (internal/sefii) and on the other_examples postgres
// vectorstore's transactional-insert pattern, generalized to the
// documents/chunks/chunk_sources/document_relations schema; export uses
// google/uuid to stage a crash-safe temp file before the atomic rename the
// spec's "overwrite the output file" step benefits from.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/1qh/ragpg/internal/backupio"
	"github.com/1qh/ragpg/internal/hashutil"
	"github.com/1qh/ragpg/internal/ragerr"
	"github.com/1qh/ragpg/internal/ragtslog"
)

const docBatchSize = 500

// ExportResult summarizes one Export call.
type ExportResult struct {
	DocumentsExported int
	OutputPath        string
}

// Export streams every document with its chunks and outgoing relations to
// path as line-delimited JSON, overwriting any existing content first.
func Export(ctx context.Context, pool *pgxpool.Pool, path string) (ExportResult, error) {
	docs, err := loadAllDocuments(ctx, pool)
	if err != nil {
		return ExportResult{}, err
	}
	chunksByDoc, err := loadChunksByDocument(ctx, pool)
	if err != nil {
		return ExportResult{}, err
	}
	relationsByDoc, err := loadOutgoingRelations(ctx, pool, docIDs(docs))
	if err != nil {
		return ExportResult{}, err
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := backupio.Truncate(tmpPath); err != nil {
		return ExportResult{}, err
	}

	for _, d := range docs {
		rec := backupio.Record{
			Title:       d.title,
			Content:     d.content,
			ContentHash: d.contentHash,
			Metadata:    d.metadata,
			CommunityID: d.communityID,
			Chunks:      chunksByDoc[d.id],
			Relations:   relationsByDoc[d.id],
		}
		if err := backupio.Append(tmpPath, rec); err != nil {
			os.Remove(tmpPath)
			return ExportResult{}, err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ExportResult{}, fmt.Errorf("backup.Export: rename: %w", err)
	}

	return ExportResult{DocumentsExported: len(docs), OutputPath: path}, nil
}

type docRow struct {
	id          int64
	title       string
	content     string
	contentHash string
	metadata    map[string]any
	communityID *int32
}

func loadAllDocuments(ctx context.Context, pool *pgxpool.Pool) ([]docRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, title, content, content_hash, metadata, community_id
		FROM documents
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("backup.loadAllDocuments: %w", err)
	}
	defer rows.Close()

	var out []docRow
	for rows.Next() {
		var d docRow
		if err := rows.Scan(&d.id, &d.title, &d.content, &d.contentHash, &d.metadata, &d.communityID); err != nil {
			return nil, fmt.Errorf("backup.loadAllDocuments: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func loadChunksByDocument(ctx context.Context, pool *pgxpool.Pool) (map[int64][]backupio.Chunk, error) {
	rows, err := pool.Query(ctx, `
		SELECT cs.document_id, c.text, c.embedding, cs.start_index, cs.end_index, c.token_count
		FROM chunk_sources cs
		JOIN chunks c ON c.id = cs.chunk_id
		ORDER BY cs.document_id, cs.start_index
	`)
	if err != nil {
		return nil, fmt.Errorf("backup.loadChunksByDocument: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]backupio.Chunk)
	for rows.Next() {
		var docID int64
		var text string
		var vec pgvector.Vector
		var start, end, tokenCount int
		if err := rows.Scan(&docID, &text, &vec, &start, &end, &tokenCount); err != nil {
			return nil, fmt.Errorf("backup.loadChunksByDocument: scan: %w", err)
		}
		out[docID] = append(out[docID], backupio.Chunk{
			Text: text, Embedding: vec.Slice(), StartIndex: start, EndIndex: end, TokenCount: tokenCount,
		})
	}
	return out, rows.Err()
}

func loadOutgoingRelations(ctx context.Context, pool *pgxpool.Pool, ids []int64) (map[int64][]backupio.RelationTarget, error) {
	out := make(map[int64][]backupio.RelationTarget)
	for start := 0; start < len(ids); start += docBatchSize {
		end := start + docBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		rows, err := pool.Query(ctx, `
			SELECT dr.source_id, d2.title, dr.rel_type, dr.weight
			FROM document_relations dr
			JOIN documents d2 ON d2.id = dr.target_id
			WHERE dr.source_id = ANY($1)
		`, batch)
		if err != nil {
			return nil, fmt.Errorf("backup.loadOutgoingRelations: %w", err)
		}
		for rows.Next() {
			var sourceID int64
			var title string
			var relType *string
			var weight float64
			if err := rows.Scan(&sourceID, &title, &relType, &weight); err != nil {
				rows.Close()
				return nil, fmt.Errorf("backup.loadOutgoingRelations: scan: %w", err)
			}
			out[sourceID] = append(out[sourceID], backupio.RelationTarget{Title: title, Type: relType, Weight: &weight})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func docIDs(docs []docRow) []int64 {
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.id
	}
	return ids
}

// ValidateResult summarizes one Validate call.
type ValidateResult struct {
	Valid           bool
	TotalDocuments  int
	TotalChunks     int
	Dimensions      map[int]struct{}
	Errors          []string
	DuplicateHashes []string
}

// Validate parses every line of path and checks the structural invariants
// required before Import will accept the file.
func Validate(path string) (ValidateResult, error) {
	lines, err := backupio.ReadAll(path)
	if err != nil {
		return ValidateResult{}, err
	}

	result := ValidateResult{Dimensions: make(map[int]struct{})}
	seenHashes := make(map[string]int)

	for _, line := range lines {
		if line.Err != nil {
			result.Errors = append(result.Errors, line.Err.Error())
			continue
		}
		rec := line.Record
		result.TotalDocuments++

		if rec.Title == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: empty title", line.LineNo))
		}
		if rec.Content == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: empty content", line.LineNo))
		}
		if rec.ContentHash == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: empty contentHash", line.LineNo))
		}
		seenHashes[rec.ContentHash]++
		if seenHashes[rec.ContentHash] == 2 {
			result.DuplicateHashes = append(result.DuplicateHashes, rec.ContentHash)
		}

		result.TotalChunks += len(rec.Chunks)
		for _, ch := range rec.Chunks {
			if ch.Embedding == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: chunk missing embedding", line.LineNo))
				continue
			}
			result.Dimensions[len(ch.Embedding)] = struct{}{}
		}
	}

	sort.Strings(result.DuplicateHashes)
	result.Valid = len(result.Errors) == 0 && len(result.Dimensions) <= 1
	return result, nil
}

// ValidationFailure is returned by Import when Validate finds structural
// errors or inconsistent embedding dimensions; the facade translates it
// into the public InvalidBackupError.
type ValidationFailure struct {
	LineErrors []string
	Dimensions []int
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("backup: invalid backup file: %d line error(s), dimensions %v", len(e.LineErrors), e.Dimensions)
}

// ImportResult summarizes one Import call.
type ImportResult struct {
	DocumentsImported int
	ChunksInserted    int
	DuplicatesSkipped int
	Warnings          []string
	// RecoveredErrors collects one typed error per recovered condition
	// (*ragerr.DimensionMismatchError, *ragerr.DuplicateContentError) in
	// the order encountered, alongside the human-readable Warnings above.
	RecoveredErrors []error
}

// Import validates path, then inserts every document not already present
// (by content_hash) in its own transaction, followed by a single pass
// inserting relation rows across all imported (and pre-existing duplicate)
// documents.
func Import(ctx context.Context, pool *pgxpool.Pool, path string, expectedDimension *int) (ImportResult, error) {
	log := ragtslog.Logger()
	validation, err := Validate(path)
	if err != nil {
		return ImportResult{}, err
	}
	if !validation.Valid {
		dims := make([]int, 0, len(validation.Dimensions))
		for d := range validation.Dimensions {
			dims = append(dims, d)
		}
		sort.Ints(dims)
		return ImportResult{}, &ValidationFailure{LineErrors: validation.Errors, Dimensions: dims}
	}

	lines, err := backupio.ReadAll(path)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	titleToIDs := make(map[string][]int64)
	var allRecords []backupio.Record

	for _, line := range lines {
		if line.Err != nil {
			continue
		}
		rec := line.Record

		if expectedDimension != nil && len(rec.Chunks) > 0 && len(rec.Chunks[0].Embedding) != *expectedDimension {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %q: embedding dimension %d != expected %d",
				rec.Title, len(rec.Chunks[0].Embedding), *expectedDimension))
			result.RecoveredErrors = append(result.RecoveredErrors, &ragerr.DimensionMismatchError{
				Title:    rec.Title,
				Expected: *expectedDimension,
				Got:      len(rec.Chunks[0].Embedding),
			})
			continue
		}

		var existingID int64
		err := pool.QueryRow(ctx, `SELECT id FROM documents WHERE content_hash = $1`, rec.ContentHash).Scan(&existingID)
		if err == nil {
			result.DuplicatesSkipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate content_hash for %q", rec.Title))
			result.RecoveredErrors = append(result.RecoveredErrors, &ragerr.DuplicateContentError{Title: rec.Title, ContentHash: rec.ContentHash})
			titleToIDs[rec.Title] = append(titleToIDs[rec.Title], existingID)
			allRecords = append(allRecords, rec)
			continue
		}
		if err != pgx.ErrNoRows {
			return result, fmt.Errorf("backup.Import: lookup content_hash: %w", err)
		}

		docID, chunksInserted, err := importOneDocument(ctx, pool, rec)
		if err != nil {
			log.Warn().Err(err).Str("title", rec.Title).Msg("failed to import document")
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to import %q: %v", rec.Title, err))
			continue
		}
		result.DocumentsImported++
		result.ChunksInserted += chunksInserted
		titleToIDs[rec.Title] = append(titleToIDs[rec.Title], docID)
		allRecords = append(allRecords, rec)
	}

	if err := importRelations(ctx, pool, allRecords, titleToIDs); err != nil {
		return result, err
	}

	return result, nil
}

// importOneDocument inserts one document and its chunks atomically.
func importOneDocument(ctx context.Context, pool *pgxpool.Pool, rec backupio.Record) (int64, int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("backup.importOneDocument: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var docID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO documents (title, content, content_hash, metadata, community_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, rec.Title, rec.Content, rec.ContentHash, rec.Metadata, rec.CommunityID).Scan(&docID)
	if err != nil {
		return 0, 0, fmt.Errorf("backup.importOneDocument: insert document: %w", err)
	}

	chunksInserted := 0
	for _, ch := range rec.Chunks {
		textHash := hashutil.TextHash(ch.Text)
		var chunkID int64
		var inserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO chunks (text, text_hash, token_count, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (text_hash) DO NOTHING
			RETURNING id, true
		`, ch.Text, textHash, ch.TokenCount, pgvector.NewVector(ch.Embedding)).Scan(&chunkID, &inserted)
		if err == pgx.ErrNoRows {
			if err := tx.QueryRow(ctx, `SELECT id FROM chunks WHERE text_hash = $1`, textHash).Scan(&chunkID); err != nil {
				return 0, 0, fmt.Errorf("backup.importOneDocument: refetch chunk: %w", err)
			}
		} else if err != nil {
			return 0, 0, fmt.Errorf("backup.importOneDocument: insert chunk: %w", err)
		} else {
			chunksInserted++
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO chunk_sources (chunk_id, document_id, start_index, end_index)
			VALUES ($1, $2, $3, $4)
		`, chunkID, docID, ch.StartIndex, ch.EndIndex); err != nil {
			return 0, 0, fmt.Errorf("backup.importOneDocument: insert chunk_sources: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("backup.importOneDocument: commit: %w", err)
	}
	return docID, chunksInserted, nil
}

func importRelations(ctx context.Context, pool *pgxpool.Pool, records []backupio.Record, titleToIDs map[string][]int64) error {
	type relRow struct {
		sourceID, targetID int64
		relType            *string
		weight              float64
	}
	var toInsert []relRow

	for _, rec := range records {
		sourceIDs := titleToIDs[rec.Title]
		for _, target := range rec.Relations {
			if target.Title == rec.Title {
				continue
			}
			targetIDs := titleToIDs[target.Title]
			for _, sid := range sourceIDs {
				for _, tid := range targetIDs {
					toInsert = append(toInsert, relRow{sourceID: sid, targetID: tid, relType: target.Type, weight: target.WeightOrDefault()})
				}
			}
		}
	}

	for start := 0; start < len(toInsert); start += docBatchSize {
		end := start + docBatchSize
		if end > len(toInsert) {
			end = len(toInsert)
		}
		batch := &pgx.Batch{}
		for _, r := range toInsert[start:end] {
			batch.Queue(`
				INSERT INTO document_relations (source_id, target_id, rel_type, weight)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (source_id, target_id) DO NOTHING
			`, r.sourceID, r.targetID, r.relType, r.weight)
		}
		br := pool.SendBatch(ctx, batch)
		for range toInsert[start:end] {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("backup.importRelations: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("backup.importRelations: close: %w", err)
		}
	}
	return nil
}
