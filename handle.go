// Package ragpg is a retrieval-augmented-generation data plane over
// PostgreSQL: it ingests documents, chunks them, embeds the chunks via a
// caller-supplied embedding function, stores them in a deduplicated
// schema, and serves hybrid (vector + BM25) retrieval augmented by a
// document relation graph and community-based expansion.
package ragpg

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/1qh/ragpg/internal/backup"
	"github.com/1qh/ragpg/internal/chunker"
	"github.com/1qh/ragpg/internal/community"
	"github.com/1qh/ragpg/internal/ingest"
	"github.com/1qh/ragpg/internal/persistence/databases"
	"github.com/1qh/ragpg/internal/ragtslog"
	"github.com/1qh/ragpg/internal/schema"
	"github.com/1qh/ragpg/internal/search"
)

// Handle is the stateful facade over one Postgres-backed RAG instance. The
// database connection is acquired lazily on first operation and released on
// Close, per the process-wide lazy-handle shape.
type Handle struct {
	cfg Config

	mu     sync.Mutex
	pool   *pgxpool.Pool
	engine *search.Engine
}

// NewHandle constructs a Handle from cfg without touching the database.
// Call Init to provision the schema and open the connection pool.
func NewHandle(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, &ConfigError{Field: "log_level", Msg: err.Error()}
		}
		// Build the shared logger first so its env-derived level does not
		// later replace this one.
		ragtslog.Logger()
		zerolog.SetGlobalLevel(level)
	}
	return &Handle{cfg: cfg}, nil
}

// ensurePool lazily opens the connection pool on first use, guarded so repeated
// calls are idempotent.
func (h *Handle) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool != nil {
		return h.pool, nil
	}
	pool, err := databases.OpenPool(ctx, h.cfg.ConnectionString, databases.Options{
		MaxConns:         h.cfg.MaxConns,
		StatementTimeout: h.cfg.StatementTimeout,
	})
	if err != nil {
		return nil, &DatabaseError{Op: "open pool", Err: err}
	}
	h.pool = pool
	h.engine = search.New(pool, h.cfg.TextConfig)
	return pool, nil
}

// Init opens the connection pool (if not already open) and ensures the
// schema, extensions and indexes exist. Idempotent.
func (h *Handle) Init(ctx context.Context) error {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return err
	}
	if err := schema.Ensure(ctx, pool, schema.Options{Dimension: h.cfg.Dimension, TextConfig: h.cfg.TextConfig}); err != nil {
		return &DatabaseError{Op: "init schema", Err: err}
	}
	return nil
}

// Drop removes all four relations. The connection pool stays open.
func (h *Handle) Drop(ctx context.Context) error {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return err
	}
	if err := schema.Drop(ctx, pool); err != nil {
		return &DatabaseError{Op: "drop schema", Err: err}
	}
	return nil
}

// Close releases the connection pool. Safe to call even if Init was never
// called.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool != nil {
		h.pool.Close()
		h.pool = nil
		h.engine = nil
		ragtslog.Logger().Debug().Msg("connection pool closed")
	}
}

// Ingest runs the ingest pipeline over docs per cfg.
func (h *Handle) Ingest(ctx context.Context, docs []Document, cfg IngestConfig) (IngestResult, error) {
	if cfg.Embed == nil {
		return IngestResult{}, &ConfigError{Field: "Embed", Msg: "required"}
	}
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return IngestResult{}, err
	}

	internalDocs := make([]ingest.Document, len(docs))
	for i, d := range docs {
		internalDocs[i] = ingest.Document{Title: d.Title, Content: d.Content, Metadata: d.Metadata}
	}

	var transform func(string, ingest.Document) string
	if cfg.TransformChunk != nil {
		transform = func(text string, d ingest.Document) string {
			return cfg.TransformChunk(text, Document{Title: d.Title, Content: d.Content, Metadata: d.Metadata})
		}
	}

	var relations map[string][]ingest.RelationTarget
	if cfg.Relations != nil {
		relations = make(map[string][]ingest.RelationTarget, len(cfg.Relations))
		for title, targets := range cfg.Relations {
			converted := make([]ingest.RelationTarget, len(targets))
			for i, t := range targets {
				converted[i] = ingest.RelationTarget{Title: t.Title, Type: t.Type, Weight: t.Weight}
			}
			relations[title] = converted
		}
	}

	result, err := ingest.Run(ctx, pool, internalDocs, ingest.Config{
		Embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			vecs, err := cfg.Embed.Embed(ctx, texts)
			if err != nil {
				return nil, &EmbedError{Op: "ingest", Err: err}
			}
			return vecs, nil
		},
		Chunk:          chunker.Options{ChunkSize: cfg.Chunk.ChunkSize, Overlap: cfg.Chunk.Overlap, Normalize: cfg.Chunk.Normalize},
		TransformChunk: transform,
		BatchSize:      cfg.BatchSize,
		BackupPath:     cfg.BackupPath,
		Relations:      relations,
		OnProgress:     cfg.OnProgress,
	})
	if err != nil {
		var embedErr *EmbedError
		if errors.As(err, &embedErr) {
			return IngestResult{}, embedErr
		}
		return IngestResult{}, &DatabaseError{Op: "ingest", Err: err}
	}

	return IngestResult{
		DocumentsInserted:   result.DocumentsInserted,
		DuplicatesSkipped:   result.DuplicatesSkipped,
		ChunksInserted:      result.ChunksInserted,
		ChunksReused:        result.ChunksReused,
		RelationsInserted:   result.RelationsInserted,
		UnresolvedRelations: result.UnresolvedRelations,
		CommunitiesDetected: result.CommunitiesDetected,
		RecoveredErrors:     result.RecoveredErrors,
	}, nil
}

// Search runs a hybrid/vector/BM25 retrieval call per cfg.
func (h *Handle) Search(ctx context.Context, embed Embedder, cfg SearchConfig) ([]SearchResult, error) {
	if embed == nil {
		return nil, &ConfigError{Field: "Embed", Msg: "required"}
	}
	if _, err := h.ensurePool(ctx); err != nil {
		return nil, err
	}

	var threshold *float64
	if cfg.Threshold != nil {
		threshold = cfg.Threshold
	}

	rows, err := h.engine.Search(ctx, func(ctx context.Context, texts []string) ([][]float32, error) {
		vecs, err := embed.Embed(ctx, texts)
		if err != nil {
			return nil, &EmbedError{Op: "search", Err: err}
		}
		return vecs, nil
	}, search.Config{
		Query:           cfg.Query,
		VectorQuery:     cfg.VectorQuery,
		Mode:            search.Mode(cfg.Mode),
		Limit:           cfg.Limit,
		Threshold:       threshold,
		RRFK:            cfg.RRFK,
		VectorWeight:    cfg.VectorWeight,
		BM25Weight:      cfg.BM25Weight,
		GraphHops:       cfg.GraphHops,
		GraphWeight:     cfg.GraphWeight,
		GraphDecay:      cfg.GraphDecay,
		GraphChunkLimit: cfg.GraphChunkLimit,
		CommunityBoost:  cfg.CommunityBoost,
	})
	if err != nil {
		var embedErr *EmbedError
		if errors.As(err, &embedErr) {
			return nil, embedErr
		}
		return nil, &DatabaseError{Op: "search", Err: err}
	}

	out := make([]SearchResult, len(rows))
	for i, r := range rows {
		out[i] = SearchResult{
			ID: r.ChunkID, DocumentID: r.DocumentID, Title: r.Title, Text: r.Text,
			Score: r.Score, Mode: ResultMode(r.Mode), CommunityID: r.CommunityID, RelationType: r.RelationType,
		}
	}
	return out, nil
}

// DetectCommunities runs union-find over the relation graph and writes
// community_id back, returning the resulting community count.
func (h *Handle) DetectCommunities(ctx context.Context) (int, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return 0, err
	}
	count, err := community.Detect(ctx, pool)
	if err != nil {
		return 0, &DatabaseError{Op: "detect communities", Err: err}
	}
	return count, nil
}

// ExportBackup writes every document, its chunks, and its outgoing
// relations to path as line-delimited JSON.
func (h *Handle) ExportBackup(ctx context.Context, path string) (ExportResult, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	result, err := backup.Export(ctx, pool, path)
	if err != nil {
		return ExportResult{}, &DatabaseError{Op: "export backup", Err: err}
	}
	return ExportResult{DocumentsExported: result.DocumentsExported, OutputPath: result.OutputPath}, nil
}

// ValidateBackup parses and structurally validates a backup file without
// touching the database.
func (h *Handle) ValidateBackup(path string) (ValidateResult, error) {
	result, err := backup.Validate(path)
	if err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{
		Valid: result.Valid, TotalDocuments: result.TotalDocuments, TotalChunks: result.TotalChunks,
		Dimensions: result.Dimensions, Errors: result.Errors, DuplicateHashes: result.DuplicateHashes,
	}, nil
}

// ImportBackup validates and imports path. If expectedDimension is non-nil,
// documents whose embedding width differs are skipped with a warning
// rather than failing the whole call.
func (h *Handle) ImportBackup(ctx context.Context, path string, expectedDimension *int) (ImportResult, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	result, err := backup.Import(ctx, pool, path, expectedDimension)
	if err != nil {
		var failure *backup.ValidationFailure
		if errors.As(err, &failure) {
			return ImportResult{}, &InvalidBackupError{LineErrors: failure.LineErrors, Dimensions: failure.Dimensions}
		}
		return ImportResult{}, &DatabaseError{Op: "import backup", Err: err}
	}
	return ImportResult{
		DocumentsImported: result.DocumentsImported, ChunksInserted: result.ChunksInserted,
		DuplicatesSkipped: result.DuplicatesSkipped, Warnings: result.Warnings,
		RecoveredErrors: result.RecoveredErrors,
	}, nil
}

// FetchRelations returns every outgoing relation from the given document
// titles, resolving through the documents table.
func (h *Handle) FetchRelations(ctx context.Context, titles []string) ([]RelationLine, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT d1.title, d2.title, dr.rel_type
		FROM document_relations dr
		JOIN documents d1 ON d1.id = dr.source_id
		JOIN documents d2 ON d2.id = dr.target_id
		WHERE d1.title = ANY($1)
	`, titles)
	if err != nil {
		return nil, &DatabaseError{Op: "fetch relations", Err: err}
	}
	defer rows.Close()

	var out []RelationLine
	for rows.Next() {
		var rel RelationLine
		if err := rows.Scan(&rel.SourceTitle, &rel.TargetTitle, &rel.Type); err != nil {
			return nil, &DatabaseError{Op: "fetch relations scan", Err: err}
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// DocumentStatsByTitle returns chunk-count/community summary stats for a
// document, looked up by title.
func (h *Handle) DocumentStatsByTitle(ctx context.Context, title string) (DocumentStats, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return DocumentStats{}, err
	}
	var stats DocumentStats
	err = pool.QueryRow(ctx, `
		SELECT d.id, d.title, d.community_id, COUNT(cs.id)
		FROM documents d
		LEFT JOIN chunk_sources cs ON cs.document_id = d.id
		WHERE d.title = $1
		GROUP BY d.id, d.title, d.community_id
	`, title).Scan(&stats.DocumentID, &stats.Title, &stats.CommunityID, &stats.ChunkCount)
	if err != nil {
		return DocumentStats{}, &DatabaseError{Op: "document stats", Err: err}
	}
	return stats, nil
}

// FetchNeighborChunks returns chunkID's own chunk together with up to
// window chunks before and after it within the same document, ordered by
// start_index.
func (h *Handle) FetchNeighborChunks(ctx context.Context, documentID, chunkID int64, window int) ([]SearchResult, error) {
	pool, err := h.ensurePool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		WITH ordered AS (
			SELECT c.id, c.text, cs.start_index,
			       ROW_NUMBER() OVER (ORDER BY cs.start_index) AS position
			FROM chunk_sources cs
			JOIN chunks c ON c.id = cs.chunk_id
			WHERE cs.document_id = $1
		),
		target AS (
			SELECT position FROM ordered WHERE id = $2
		)
		SELECT o.id, o.text
		FROM ordered o, target t
		WHERE o.position BETWEEN t.position - $3 AND t.position + $3
		ORDER BY o.position
	`, documentID, chunkID, window)
	if err != nil {
		return nil, &DatabaseError{Op: "fetch neighbor chunks", Err: err}
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Text); err != nil {
			return nil, &DatabaseError{Op: "fetch neighbor chunks scan", Err: err}
		}
		r.DocumentID = documentID
		out = append(out, r)
	}
	return out, rows.Err()
}
