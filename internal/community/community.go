// Package community implements union-find over the document relation graph
// and the batched write-back of sequential community ids. Pure in-memory
// algorithm with a thin DB-facing wrapper; grounded on the teacher's
// batched-write idiom (internal/sefii writes in fixed-size batches rather
// than one statement per row) generalized from inverted-index postings to
// community id assignment.
package community

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

// writeBatchSize matches the 500-row batching used throughout the ingest
// and backup packages for bulk writes/lookups.
const writeBatchSize = 500

// Edge is one relation-graph edge; direction is irrelevant to union-find.
type Edge struct {
	SourceID int64
	TargetID int64
}

// unionFind is classic union-find with path compression and arbitrary-root
// union (no rank tracking, per the spec's algorithm note).
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind(ids []int64) *unionFind {
	uf := &unionFind{parent: make(map[int64]int64, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(x int64) int64 {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

func (uf *unionFind) union(a, b int64) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// Assign runs union-find over documentIDs and edges, and returns a map from
// document id to a sequential community id (0, 1, 2, ...) assigned in the
// order each root is first observed while iterating documentIDs in
// ascending order. Isolated documents each receive their own community.
func Assign(documentIDs []int64, edges []Edge) map[int64]int32 {
	ids := append([]int64(nil), documentIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	uf := newUnionFind(ids)
	for _, e := range edges {
		uf.union(e.SourceID, e.TargetID)
	}

	assignment := make(map[int64]int32, len(ids))
	rootToCommunity := make(map[int64]int32)
	var next int32
	for _, id := range ids {
		root := uf.find(id)
		cid, ok := rootToCommunity[root]
		if !ok {
			cid = next
			rootToCommunity[root] = cid
			next++
		}
		assignment[id] = cid
	}
	return assignment
}

// Count returns the distinct number of communities in an assignment.
func Count(assignment map[int64]int32) int {
	seen := make(map[int32]struct{})
	for _, cid := range assignment {
		seen[cid] = struct{}{}
	}
	return len(seen)
}

// Detect loads every document id and relation edge, runs Assign, writes
// community_id back in batches of 500, and returns the resulting community
// count.
func Detect(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	ids, err := loadDocumentIDs(ctx, pool)
	if err != nil {
		return 0, err
	}
	edges, err := loadEdges(ctx, pool)
	if err != nil {
		return 0, err
	}

	assignment := Assign(ids, edges)
	if err := writeAssignment(ctx, pool, assignment); err != nil {
		return 0, err
	}
	return Count(assignment), nil
}

func loadDocumentIDs(ctx context.Context, pool *pgxpool.Pool) ([]int64, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("community.loadDocumentIDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("community.loadDocumentIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadEdges(ctx context.Context, pool *pgxpool.Pool) ([]Edge, error) {
	rows, err := pool.Query(ctx, `SELECT source_id, target_id FROM document_relations`)
	if err != nil {
		return nil, fmt.Errorf("community.loadEdges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID); err != nil {
			return nil, fmt.Errorf("community.loadEdges: scan: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func writeAssignment(ctx context.Context, pool *pgxpool.Pool, assignment map[int64]int32) error {
	ids := make([]int64, 0, len(assignment))
	for id := range assignment {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for start := 0; start < len(ids); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("community.writeAssignment: begin: %w", err)
		}
		for _, id := range batch {
			if _, err := tx.Exec(ctx, `UPDATE documents SET community_id = $1 WHERE id = $2`, assignment[id], id); err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("community.writeAssignment: update %d: %w", id, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("community.writeAssignment: commit: %w", err)
		}
	}
	return nil
}
