// Package ingest composes the chunker, hash helpers, embedding batching,
// relation resolution and community recomputation into the single Ingest
// operation. Grounded on the teacher's batched-insert idiom
// (internal/sefii's inverted-index postings are written in fixed-size
// batches) generalized to the junction-table dedup schema, and on
// jackc/pgx/v5's pgx.Batch for pipelined multi-row writes instead of the
// teacher's retry-wrapped single-statement Exec loop.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/1qh/ragpg/internal/backupio"
	"github.com/1qh/ragpg/internal/chunker"
	"github.com/1qh/ragpg/internal/community"
	"github.com/1qh/ragpg/internal/hashutil"
	"github.com/1qh/ragpg/internal/ragerr"
	"github.com/1qh/ragpg/internal/ragtslog"
)

const lookupBatchSize = 500

// EmbedFunc embeds a batch of texts into fixed-width vectors, in order.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Document is one input to Run.
type Document struct {
	Title    string
	Content  string
	Metadata map[string]any
}

// RelationTarget is a relation edge's target.
type RelationTarget struct {
	Title  string
	Type   *string
	Weight *float64
}

// Config configures one Run call.
type Config struct {
	Embed          EmbedFunc
	Chunk          chunker.Options
	TransformChunk func(chunkText string, doc Document) string
	BatchSize      int
	BackupPath     string
	// Relations is nil when the caller did not pass a relations argument at
	// all; a non-nil (possibly empty) map still triggers community
	// detection, per the spec's "supplied the argument at all" rule.
	Relations  map[string][]RelationTarget
	OnProgress func(title string, current, total int)
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 64
	}
	return c.BatchSize
}

// Result summarizes one Run call.
type Result struct {
	DocumentsInserted   int
	DuplicatesSkipped   int
	ChunksInserted      int
	ChunksReused        int
	RelationsInserted   int
	UnresolvedRelations []string
	CommunitiesDetected int
	// RecoveredErrors collects one typed error per recovered condition
	// (*ragerr.DuplicateContentError, *ragerr.UnresolvedRelationError) in
	// the order encountered, so callers can errors.As over the specific
	// condition instead of only the summarized counters/titles above.
	RecoveredErrors []error
}

type sourceRef struct {
	DocumentID int64
	StartIndex int
	EndIndex   int
}

type dedupEntry struct {
	Text       string
	TokenCount int
	Sources    []sourceRef
	Embedding  []float32
	ChunkID    int64
	isNew      bool
}

type insertedDoc struct {
	ID       int64
	Title    string
	Content  string
	Metadata map[string]any
}

// Run executes the ingest algorithm against docs.
func Run(ctx context.Context, pool *pgxpool.Pool, docs []Document, cfg Config) (Result, error) {
	log := ragtslog.Logger()
	var result Result

	dedupMap := make(map[string]*dedupEntry)
	titleToIDs := make(map[string][]int64)
	var newlyInserted []insertedDoc
	var unresolvedSeen = make(map[string]struct{})

	total := len(docs)
	for i, doc := range docs {
		contentHash := hashutil.ContentHash(doc.Title, doc.Content)

		var existingID int64
		err := pool.QueryRow(ctx, `SELECT id FROM documents WHERE content_hash = $1`, contentHash).Scan(&existingID)
		switch {
		case err == nil:
			result.DuplicatesSkipped++
			result.RecoveredErrors = append(result.RecoveredErrors, &ragerr.DuplicateContentError{Title: doc.Title, ContentHash: contentHash})
			titleToIDs[doc.Title] = append(titleToIDs[doc.Title], existingID)
		case err == pgx.ErrNoRows:
			metadataJSON, mErr := json.Marshal(doc.Metadata)
			if mErr != nil {
				return result, fmt.Errorf("ingest: marshal metadata for %q: %w", doc.Title, mErr)
			}
			var docID int64
			insertErr := pool.QueryRow(ctx, `
				INSERT INTO documents (title, content, content_hash, metadata)
				VALUES ($1, $2, $3, $4::jsonb)
				RETURNING id
			`, doc.Title, doc.Content, contentHash, metadataJSON).Scan(&docID)
			if insertErr != nil {
				return result, fmt.Errorf("ingest: insert document %q: %w", doc.Title, insertErr)
			}
			result.DocumentsInserted++
			titleToIDs[doc.Title] = append(titleToIDs[doc.Title], docID)
			newlyInserted = append(newlyInserted, insertedDoc{ID: docID, Title: doc.Title, Content: doc.Content, Metadata: doc.Metadata})

			for _, ch := range chunker.Chunk(doc.Content, cfg.Chunk) {
				finalText := ch.Text
				if cfg.TransformChunk != nil {
					finalText = cfg.TransformChunk(ch.Text, doc)
				}
				textHash := hashutil.TextHash(finalText)
				entry, ok := dedupMap[textHash]
				if !ok {
					entry = &dedupEntry{Text: finalText, TokenCount: utf8.RuneCountInString(finalText)}
					dedupMap[textHash] = entry
				}
				entry.Sources = append(entry.Sources, sourceRef{DocumentID: docID, StartIndex: ch.StartIndex, EndIndex: ch.EndIndex})
			}
		default:
			return result, fmt.Errorf("ingest: lookup content_hash for %q: %w", doc.Title, err)
		}

		if cfg.OnProgress != nil {
			cfg.OnProgress(doc.Title, i+1, total)
		}
	}

	allHashes := make([]string, 0, len(dedupMap))
	for h := range dedupMap {
		allHashes = append(allHashes, h)
	}

	existingHashes, err := lookupExistingTextHashes(ctx, pool, allHashes)
	if err != nil {
		return result, err
	}
	for h, entry := range dedupMap {
		if _, ok := existingHashes[h]; !ok {
			entry.isNew = true
		}
	}

	var newTexts []string
	var newHashesInOrder []string
	for h, entry := range dedupMap {
		if entry.isNew {
			newTexts = append(newTexts, entry.Text)
			newHashesInOrder = append(newHashesInOrder, h)
		}
	}

	if len(newTexts) > 0 {
		embeddings, err := embedInBatches(ctx, cfg.Embed, newTexts, cfg.batchSize())
		if err != nil {
			return result, fmt.Errorf("ingest: embed: %w", err)
		}
		for i, h := range newHashesInOrder {
			dedupMap[h].Embedding = embeddings[i]
		}
		if err := insertNewChunks(ctx, pool, dedupMap, newHashesInOrder); err != nil {
			return result, err
		}
	}

	if err := fetchChunkIDsAndEmbeddings(ctx, pool, dedupMap, allHashes); err != nil {
		return result, err
	}

	for _, entry := range dedupMap {
		if entry.isNew {
			result.ChunksInserted++
		} else {
			result.ChunksReused++
		}
	}

	if err := insertChunkSources(ctx, pool, dedupMap); err != nil {
		return result, err
	}

	if cfg.BackupPath != "" {
		for _, doc := range newlyInserted {
			rec, err := buildBackupRecord(doc, cfg, dedupMap)
			if err != nil {
				log.Warn().Err(err).Str("title", doc.Title).Msg("skip backup line for document")
				continue
			}
			if err := backupio.Append(cfg.BackupPath, rec); err != nil {
				return result, fmt.Errorf("ingest: append backup line for %q: %w", doc.Title, err)
			}
		}
	}

	if cfg.Relations != nil {
		inserted, unresolved, err := resolveAndInsertRelations(ctx, pool, cfg.Relations, titleToIDs)
		if err != nil {
			return result, err
		}
		result.RelationsInserted = inserted
		for _, u := range unresolved {
			result.RecoveredErrors = append(result.RecoveredErrors, &ragerr.UnresolvedRelationError{SourceTitle: u.SourceTitle, TargetTitle: u.TargetTitle})
			if _, seen := unresolvedSeen[u.TargetTitle]; !seen {
				unresolvedSeen[u.TargetTitle] = struct{}{}
				result.UnresolvedRelations = append(result.UnresolvedRelations, u.TargetTitle)
			}
		}

		count, err := community.Detect(ctx, pool)
		if err != nil {
			return result, fmt.Errorf("ingest: detect communities: %w", err)
		}
		result.CommunitiesDetected = count
	}

	return result, nil
}

func lookupExistingTextHashes(ctx context.Context, pool *pgxpool.Pool, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for start := 0; start < len(hashes); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]
		rows, err := pool.Query(ctx, `SELECT text_hash FROM chunks WHERE text_hash = ANY($1)`, batch)
		if err != nil {
			return nil, fmt.Errorf("ingest: lookup existing text hashes: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ingest: scan text hash: %w", err)
			}
			existing[h] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return existing, nil
}

func embedInBatches(ctx context.Context, embed EmbedFunc, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func insertNewChunks(ctx context.Context, pool *pgxpool.Pool, dedupMap map[string]*dedupEntry, hashes []string) error {
	for start := 0; start < len(hashes); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := &pgx.Batch{}
		for _, h := range hashes[start:end] {
			entry := dedupMap[h]
			batch.Queue(`
				INSERT INTO chunks (text, text_hash, token_count, embedding)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (text_hash) DO NOTHING
			`, entry.Text, h, entry.TokenCount, pgvector.NewVector(entry.Embedding))
		}
		br := pool.SendBatch(ctx, batch)
		for range hashes[start:end] {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("ingest: insert chunk batch: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("ingest: close chunk insert batch: %w", err)
		}
	}
	return nil
}

func fetchChunkIDsAndEmbeddings(ctx context.Context, pool *pgxpool.Pool, dedupMap map[string]*dedupEntry, hashes []string) error {
	for start := 0; start < len(hashes); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]
		rows, err := pool.Query(ctx, `SELECT id, text_hash, embedding FROM chunks WHERE text_hash = ANY($1)`, batch)
		if err != nil {
			return fmt.Errorf("ingest: refetch chunk ids: %w", err)
		}
		for rows.Next() {
			var id int64
			var h string
			var vec pgvector.Vector
			if err := rows.Scan(&id, &h, &vec); err != nil {
				rows.Close()
				return fmt.Errorf("ingest: scan refetched chunk: %w", err)
			}
			entry := dedupMap[h]
			entry.ChunkID = id
			if entry.Embedding == nil {
				entry.Embedding = vec.Slice()
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func insertChunkSources(ctx context.Context, pool *pgxpool.Pool, dedupMap map[string]*dedupEntry) error {
	type row struct {
		chunkID, docID       int64
		startIndex, endIndex int
	}
	var rows []row
	for _, entry := range dedupMap {
		for _, src := range entry.Sources {
			rows = append(rows, row{chunkID: entry.ChunkID, docID: src.DocumentID, startIndex: src.StartIndex, endIndex: src.EndIndex})
		}
	}

	for start := 0; start < len(rows); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := &pgx.Batch{}
		for _, r := range rows[start:end] {
			batch.Queue(`
				INSERT INTO chunk_sources (chunk_id, document_id, start_index, end_index)
				VALUES ($1, $2, $3, $4)
			`, r.chunkID, r.docID, r.startIndex, r.endIndex)
		}
		br := pool.SendBatch(ctx, batch)
		for range rows[start:end] {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("ingest: insert chunk_sources batch: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("ingest: close chunk_sources batch: %w", err)
		}
	}
	return nil
}

func buildBackupRecord(doc insertedDoc, cfg Config, dedupMap map[string]*dedupEntry) (backupio.Record, error) {
	contentHash := hashutil.ContentHash(doc.Title, doc.Content)
	var chunks []backupio.Chunk
	for _, ch := range chunker.Chunk(doc.Content, cfg.Chunk) {
		finalText := ch.Text
		if cfg.TransformChunk != nil {
			finalText = cfg.TransformChunk(ch.Text, Document{Title: doc.Title, Content: doc.Content, Metadata: doc.Metadata})
		}
		textHash := hashutil.TextHash(finalText)
		entry, ok := dedupMap[textHash]
		if !ok {
			return backupio.Record{}, fmt.Errorf("backup: missing dedup entry for hash %s", textHash)
		}
		chunks = append(chunks, backupio.Chunk{
			Text:       finalText,
			Embedding:  entry.Embedding,
			StartIndex: ch.StartIndex,
			EndIndex:   ch.EndIndex,
			TokenCount: entry.TokenCount,
		})
	}
	return backupio.Record{
		Title:       doc.Title,
		Content:     doc.Content,
		ContentHash: contentHash,
		Metadata:    doc.Metadata,
		Chunks:      chunks,
	}, nil
}

// unresolvedRelation pairs an unresolved relation target with the source
// title that referenced it, so callers can construct a precise
// ragerr.UnresolvedRelationError per occurrence.
type unresolvedRelation struct {
	SourceTitle string
	TargetTitle string
}

func resolveAndInsertRelations(ctx context.Context, pool *pgxpool.Pool, relations map[string][]RelationTarget, titleToIDs map[string][]int64) (int, []unresolvedRelation, error) {
	needed := make(map[string]struct{})
	for sourceTitle, targets := range relations {
		if _, ok := titleToIDs[sourceTitle]; !ok {
			needed[sourceTitle] = struct{}{}
		}
		for _, t := range targets {
			if _, ok := titleToIDs[t.Title]; !ok {
				needed[t.Title] = struct{}{}
			}
		}
	}
	if len(needed) > 0 {
		titles := make([]string, 0, len(needed))
		for t := range needed {
			titles = append(titles, t)
		}
		rows, err := pool.Query(ctx, `SELECT id, title FROM documents WHERE title = ANY($1)`, titles)
		if err != nil {
			return 0, nil, fmt.Errorf("ingest: lookup relation titles: %w", err)
		}
		for rows.Next() {
			var id int64
			var title string
			if err := rows.Scan(&id, &title); err != nil {
				rows.Close()
				return 0, nil, fmt.Errorf("ingest: scan relation title: %w", err)
			}
			titleToIDs[title] = append(titleToIDs[title], id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return 0, nil, err
		}
	}

	type relRow struct {
		sourceID, targetID int64
		relType            *string
		weight             float64
	}
	var toInsert []relRow
	var unresolved []unresolvedRelation

	for sourceTitle, targets := range relations {
		sourceIDs := titleToIDs[sourceTitle]
		for _, target := range targets {
			if target.Title == sourceTitle {
				continue // self-reference rule
			}
			targetIDs := titleToIDs[target.Title]
			if len(targetIDs) == 0 {
				unresolved = append(unresolved, unresolvedRelation{SourceTitle: sourceTitle, TargetTitle: target.Title})
				continue
			}
			weight := 1.0
			if target.Weight != nil {
				weight = *target.Weight
			}
			for _, sid := range sourceIDs {
				for _, tid := range targetIDs {
					toInsert = append(toInsert, relRow{sourceID: sid, targetID: tid, relType: target.Type, weight: weight})
				}
			}
		}
	}

	inserted := 0
	for start := 0; start < len(toInsert); start += lookupBatchSize {
		end := start + lookupBatchSize
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
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return 0, nil, fmt.Errorf("ingest: insert relation batch: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, nil, fmt.Errorf("ingest: close relation batch: %w", err)
		}
	}

	return inserted, unresolved, nil
}
