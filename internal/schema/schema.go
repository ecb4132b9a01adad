// Package schema owns the four relations (documents, chunks, chunk_sources,
// document_relations) and the extensions/indexes they depend on. It is the
// lowest-level DB-facing package; everything else composes on top of it.
// Grounded on the teacher's EnsureTable/EnsureInvertedIndexTable idiom
// (internal/sefii/engine.go): idempotent "create if missing" statements, no
// migration framework.
package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options parameterizes schema creation by the embedding dimension and the
// BM25 text search configuration, both fixed at handle construction time.
type Options struct {
	Dimension  int
	TextConfig string
}

// Ensure creates the extensions, relations and indexes if they do not
// already exist. Safe to call repeatedly.
func Ensure(ctx context.Context, pool *pgxpool.Pool, opts Options) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vectorscale`,
		`CREATE EXTENSION IF NOT EXISTS pg_textsearch`,
		`CREATE TABLE IF NOT EXISTS documents (
			id bigserial PRIMARY KEY,
			title text NOT NULL,
			content text NOT NULL,
			content_hash text NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}',
			community_id int,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS documents_content_hash_key ON documents (content_hash)`,
		`CREATE INDEX IF NOT EXISTS documents_community_id_idx ON documents (community_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id bigserial PRIMARY KEY,
			text text NOT NULL,
			text_hash text NOT NULL,
			token_count int NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, opts.Dimension),
		`CREATE UNIQUE INDEX IF NOT EXISTS chunks_text_hash_key ON chunks (text_hash)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING diskann (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_text_bm25_idx ON chunks USING bm25 (text) WITH (text_config = %q)`, opts.TextConfig),
		`CREATE TABLE IF NOT EXISTS chunk_sources (
			id bigserial PRIMARY KEY,
			chunk_id bigint NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
			document_id bigint NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			start_index int NOT NULL,
			end_index int NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chunk_sources_chunk_id_idx ON chunk_sources (chunk_id)`,
		`CREATE INDEX IF NOT EXISTS chunk_sources_document_id_idx ON chunk_sources (document_id)`,
		`CREATE TABLE IF NOT EXISTS document_relations (
			id bigserial PRIMARY KEY,
			source_id bigint NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			target_id bigint NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			rel_type text,
			weight real NOT NULL DEFAULT 1.0,
			UNIQUE (source_id, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS document_relations_source_id_idx ON document_relations (source_id)`,
		`CREATE INDEX IF NOT EXISTS document_relations_target_id_idx ON document_relations (target_id)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema.Ensure: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Drop removes all four relations, cascading to their indexes and
// constraints. Extensions are left installed.
func Drop(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS chunk_sources, document_relations, chunks, documents CASCADE`)
	if err != nil {
		return fmt.Errorf("schema.Drop: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
