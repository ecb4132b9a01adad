// Package search implements the hybrid (vector + BM25 + RRF) retrieval
// engine, recursive relation-graph expansion, and community-boost
// expansion. Grounded on the teacher's internal/sefii engine: vector search
// via the pgvector distance operator, a hand-rolled keyword scorer, and a
// union/merge step over ranked id lists — generalized here to RRF fusion
// and parameterized over an injected *pgxpool.Pool rather than a bare
// *pgx.Conn, and fanned out with golang.org/x/sync/errgroup instead of the
// teacher's ad hoc goroutine+channel pattern.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

// EmbedFunc embeds a batch of texts into fixed-width vectors, in order.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Mode selects which retrieval legs run.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeBM25   Mode = "bm25"
	ModeHybrid Mode = "hybrid"
)

// ResultMode tags a result's provenance.
type ResultMode string

const (
	ResultVector    ResultMode = "vector"
	ResultBM25      ResultMode = "bm25"
	ResultGraph     ResultMode = "graph"
	ResultCommunity ResultMode = "community"
)

// Config configures one Search call.
type Config struct {
	Query           string
	VectorQuery     string
	Mode            Mode
	Limit           int
	Threshold       *float64
	RRFK            int
	VectorWeight    float64
	BM25Weight      float64
	GraphHops       int
	GraphWeight     float64
	GraphDecay      float64
	GraphChunkLimit int
	CommunityBoost  float64
}

// withDefaults fills the zero-valued, defaultable fields of Config.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeHybrid
	}
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.VectorWeight == 0 {
		c.VectorWeight = 1
	}
	if c.BM25Weight == 0 {
		c.BM25Weight = 1
	}
	if c.GraphWeight == 0 {
		c.GraphWeight = 1
	}
	if c.GraphDecay == 0 {
		c.GraphDecay = 1
	}
	if c.GraphChunkLimit <= 0 {
		c.GraphChunkLimit = 200
	}
	return c
}

// Result is one ranked chunk.
type Result struct {
	ChunkID      int64
	DocumentID   int64
	Title        string
	Text         string
	Score        float64
	Mode         ResultMode
	CommunityID  *int32
	RelationType *string
}

// Engine runs searches against a schema.Ensure-provisioned database.
type Engine struct {
	Pool       *pgxpool.Pool
	TextConfig string
}

// New constructs a search Engine.
func New(pool *pgxpool.Pool, textConfig string) *Engine {
	return &Engine{Pool: pool, TextConfig: textConfig}
}

// Search runs cfg against the database, applying graph and community
// expansion when configured.
func (e *Engine) Search(ctx context.Context, embed EmbedFunc, cfg Config) ([]Result, error) {
	cfg = cfg.withDefaults()

	var queryVec []float32
	needsEmbedding := cfg.Mode != ModeBM25
	if needsEmbedding {
		text := cfg.VectorQuery
		if text == "" {
			text = cfg.Query
		}
		vecs, err := embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("search: embed: %w", err)
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("search: embed returned no vectors")
		}
		queryVec = vecs[0]
	}

	fetchLimit := 3 * cfg.Limit
	var results []Result

	switch cfg.Mode {
	case ModeVector:
		rows, err := e.vectorSearch(ctx, queryVec, fetchLimit, cfg.Threshold)
		if err != nil {
			return nil, err
		}
		results = rows
	case ModeBM25:
		rows, err := e.bm25Search(ctx, cfg.Query, fetchLimit)
		if err != nil {
			return nil, err
		}
		results = rows
	default: // hybrid
		var vecRows, bm25Rows []Result
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			vecRows, err = e.vectorSearch(gctx, queryVec, fetchLimit, nil)
			return err
		})
		g.Go(func() error {
			var err error
			bm25Rows, err = e.bm25Search(gctx, cfg.Query, fetchLimit)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		results = fuseRRF(vecRows, bm25Rows, cfg.RRFK, cfg.VectorWeight, cfg.BM25Weight)
	}

	results = dedupByText(results, cfg.Limit)

	expanded := false
	if cfg.GraphHops > 0 {
		graphResults, err := e.graphExpand(ctx, results, cfg)
		if err != nil {
			return nil, err
		}
		if len(graphResults) > 0 {
			results = append(results, graphResults...)
			expanded = true
		}
	}

	if cfg.CommunityBoost > 0 {
		if queryVec == nil {
			vecs, err := embed(ctx, []string{cfg.Query})
			if err != nil {
				return nil, fmt.Errorf("search: embed for community boost: %w", err)
			}
			queryVec = vecs[0]
		}
		communityResults, err := e.communityBoost(ctx, results, queryVec, cfg)
		if err != nil {
			return nil, err
		}
		if len(communityResults) > 0 {
			results = append(results, communityResults...)
			expanded = true
		}
	}

	if expanded {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	return results, nil
}

func (e *Engine) vectorSearch(ctx context.Context, queryVec []float32, limit int, threshold *float64) ([]Result, error) {
	vec := pgvector.NewVector(queryVec)
	rows, err := e.Pool.Query(ctx, `
		WITH ranked AS (
			SELECT c.id AS chunk_id, MAX(cs.document_id) AS document_id, c.text AS text,
			       1 - (c.embedding <=> $1) AS score
			FROM chunks c
			JOIN chunk_sources cs ON cs.chunk_id = c.id
			GROUP BY c.id
		)
		SELECT r.chunk_id, r.document_id, d.title, r.text, r.score, d.community_id
		FROM ranked r
		JOIN documents d ON d.id = r.document_id
		WHERE $2::float8 IS NULL OR r.score > $2
		ORDER BY r.score DESC
		LIMIT $3
	`, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search.vectorSearch: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Title, &r.Text, &r.Score, &r.CommunityID); err != nil {
			return nil, fmt.Errorf("search.vectorSearch: scan: %w", err)
		}
		r.Mode = ResultVector
		out = append(out, r)
	}
	return out, rows.Err()
}

// bm25Search ranks chunks by the text search extension's scoring function,
// keeping only rows with a strictly negative distance (a match). The
// extension's API is assumed to expose a bm25_distance(text, query,
// text_config) scalar function, mirroring the convention other Postgres
// full-text scoring extensions use (more negative = better match).
func (e *Engine) bm25Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := e.Pool.Query(ctx, `
		WITH scored AS (
			SELECT c.id AS chunk_id, MAX(cs.document_id) AS document_id, c.text AS text,
			       bm25_distance(c.text, $1, $2) AS distance
			FROM chunks c
			JOIN chunk_sources cs ON cs.chunk_id = c.id
			GROUP BY c.id
		)
		SELECT s.chunk_id, s.document_id, d.title, s.text, -s.distance AS score, d.community_id
		FROM scored s
		JOIN documents d ON d.id = s.document_id
		WHERE s.distance < 0
		ORDER BY s.distance ASC
		LIMIT $3
	`, query, e.TextConfig, limit)
	if err != nil {
		return nil, fmt.Errorf("search.bm25Search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Title, &r.Text, &r.Score, &r.CommunityID); err != nil {
			return nil, fmt.Errorf("search.bm25Search: scan: %w", err)
		}
		r.Mode = ResultBM25
		out = append(out, r)
	}
	return out, rows.Err()
}

// fuseRRF combines two ranked lists by reciprocal rank fusion, keyed by
// chunk id. Surviving rows keep mode=vector regardless of which leg(s)
// contributed, per the observable contract.
func fuseRRF(vecRows, bm25Rows []Result, k int, vectorWeight, bm25Weight float64) []Result {
	type entry struct {
		result Result
		score  float64
	}
	byChunk := make(map[int64]*entry)

	for rank, r := range vecRows {
		e, ok := byChunk[r.ChunkID]
		if !ok {
			e = &entry{result: r}
			byChunk[r.ChunkID] = e
		}
		e.score += vectorWeight / float64(k+rank+1)
	}
	for rank, r := range bm25Rows {
		e, ok := byChunk[r.ChunkID]
		if !ok {
			e = &entry{result: r}
			byChunk[r.ChunkID] = e
		}
		e.score += bm25Weight / float64(k+rank+1)
	}

	out := make([]Result, 0, len(byChunk))
	for _, e := range byChunk {
		e.result.Score = e.score
		e.result.Mode = ResultVector
		out = append(out, e.result)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func dedupByText(results []Result, limit int) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Text]; ok {
			continue
		}
		seen[r.Text] = struct{}{}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

type graphDoc struct {
	DocID      int64
	PathWeight float64
	RelType    *string
}

// graphExpand follows document_relations up to cfg.GraphHops hops from the
// seed documents in results, using a bounded recursive CTE with a visited
// array to guarantee termination on cyclic graphs.
func (e *Engine) graphExpand(ctx context.Context, results []Result, cfg Config) ([]Result, error) {
	seeds := distinctDocumentIDs(results)
	if len(seeds) == 0 {
		return nil, nil
	}

	rows, err := e.Pool.Query(ctx, `
		WITH RECURSIVE expansion(doc_id, depth, path_weight, rel_type, visited) AS (
			SELECT
				CASE WHEN dr.source_id = ANY($1) THEN dr.target_id ELSE dr.source_id END,
				1,
				COALESCE(dr.weight, 1.0) * $2,
				dr.rel_type,
				ARRAY[CASE WHEN dr.source_id = ANY($1) THEN dr.target_id ELSE dr.source_id END]
			FROM document_relations dr
			WHERE (dr.source_id = ANY($1) OR dr.target_id = ANY($1))
			  AND NOT (dr.source_id = ANY($1) AND dr.target_id = ANY($1))

			UNION ALL

			SELECT
				CASE WHEN dr.source_id = e.doc_id THEN dr.target_id ELSE dr.source_id END,
				e.depth + 1,
				e.path_weight * COALESCE(dr.weight, 1.0) * $2,
				dr.rel_type,
				e.visited || (CASE WHEN dr.source_id = e.doc_id THEN dr.target_id ELSE dr.source_id END)
			FROM document_relations dr
			JOIN expansion e ON dr.source_id = e.doc_id OR dr.target_id = e.doc_id
			WHERE e.depth < $3
			  AND NOT (CASE WHEN dr.source_id = e.doc_id THEN dr.target_id ELSE dr.source_id END = ANY($1))
			  AND NOT (CASE WHEN dr.source_id = e.doc_id THEN dr.target_id ELSE dr.source_id END = ANY(e.visited))
		)
		SELECT doc_id, MAX(path_weight) AS path_weight,
		       (ARRAY_AGG(rel_type ORDER BY path_weight DESC))[1] AS rel_type
		FROM expansion
		GROUP BY doc_id
	`, seeds, cfg.GraphDecay, cfg.GraphHops)
	if err != nil {
		return nil, fmt.Errorf("search.graphExpand: traversal: %w", err)
	}

	var docs []graphDoc
	for rows.Next() {
		var d graphDoc
		if err := rows.Scan(&d.DocID, &d.PathWeight, &d.RelType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("search.graphExpand: scan: %w", err)
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].PathWeight > docs[j].PathWeight })

	docIDs := make([]int64, len(docs))
	weightByDoc := make(map[int64]float64, len(docs))
	relByDoc := make(map[int64]*string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.DocID
		weightByDoc[d.DocID] = d.PathWeight
		relByDoc[d.DocID] = d.RelType
	}

	excludeChunkIDs := chunkIDs(results)
	chunkRows, err := e.Pool.Query(ctx, `
		SELECT c.id, cs.document_id, d.title, c.text, d.community_id
		FROM chunk_sources cs
		JOIN chunks c ON c.id = cs.chunk_id
		JOIN documents d ON d.id = cs.document_id
		WHERE cs.document_id = ANY($1) AND NOT (c.id = ANY($2))
		LIMIT $3
	`, docIDs, excludeChunkIDs, cfg.GraphChunkLimit)
	if err != nil {
		return nil, fmt.Errorf("search.graphExpand: chunks: %w", err)
	}
	defer chunkRows.Close()

	type candidate struct {
		result Result
		weight float64
	}
	var candidates []candidate
	for chunkRows.Next() {
		var r Result
		if err := chunkRows.Scan(&r.ChunkID, &r.DocumentID, &r.Title, &r.Text, &r.CommunityID); err != nil {
			return nil, fmt.Errorf("search.graphExpand: scan chunk: %w", err)
		}
		candidates = append(candidates, candidate{result: r, weight: weightByDoc[r.DocumentID]})
	}
	if err := chunkRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })

	out := make([]Result, len(candidates))
	for i, c := range candidates {
		c.result.Mode = ResultGraph
		c.result.RelationType = relByDoc[c.result.DocumentID]
		c.result.Score = cfg.GraphWeight / float64(cfg.RRFK+i+1)
		out[i] = c.result
	}
	return out, nil
}

// communityBoost pulls extra chunks from the dominant community among the
// current results, excluding community-summary documents.
func (e *Engine) communityBoost(ctx context.Context, results []Result, queryVec []float32, cfg Config) ([]Result, error) {
	topCommunity, ok := dominantCommunity(results)
	if !ok {
		return nil, nil
	}

	excludeChunkIDs := chunkIDs(results)
	vec := pgvector.NewVector(queryVec)
	rows, err := e.Pool.Query(ctx, `
		SELECT c.id, cs.document_id, d.title, c.text, d.community_id
		FROM chunk_sources cs
		JOIN chunks c ON c.id = cs.chunk_id
		JOIN documents d ON d.id = cs.document_id
		WHERE d.community_id = $1
		  AND COALESCE(d.metadata->>'_ragts_type', '') != 'community_summary'
		  AND NOT (c.id = ANY($2))
		ORDER BY c.embedding <=> $3
		LIMIT $4
	`, topCommunity, excludeChunkIDs, vec, cfg.GraphChunkLimit)
	if err != nil {
		return nil, fmt.Errorf("search.communityBoost: %w", err)
	}
	defer rows.Close()

	var out []Result
	i := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Title, &r.Text, &r.CommunityID); err != nil {
			return nil, fmt.Errorf("search.communityBoost: scan: %w", err)
		}
		r.Mode = ResultCommunity
		r.Score = cfg.CommunityBoost / float64(cfg.RRFK+i+1)
		out = append(out, r)
		i++
	}
	return out, rows.Err()
}

func distinctDocumentIDs(results []Result) []int64 {
	seen := make(map[int64]struct{}, len(results))
	var out []int64
	for _, r := range results {
		if _, ok := seen[r.DocumentID]; !ok {
			seen[r.DocumentID] = struct{}{}
			out = append(out, r.DocumentID)
		}
	}
	return out
}

func chunkIDs(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func dominantCommunity(results []Result) (int32, bool) {
	counts := make(map[int32]int)
	for _, r := range results {
		if r.CommunityID != nil {
			counts[*r.CommunityID]++
		}
	}
	var best int32
	var bestCount int
	found := false
	for cid, count := range counts {
		if !found || count > bestCount {
			best, bestCount, found = cid, count, true
		}
	}
	return best, found
}
