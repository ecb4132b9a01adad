package ragpg

import (
	"context"
	"fmt"
	"sort"
)

const (
	metaTypeKey          = "_ragts_type"
	metaCommunityIDKey   = "_ragts_community_id"
	metaMemberTitlesKey  = "_ragts_member_titles"
	communitySummaryType = "community_summary"
	communityTitlePrefix = "_ragts_community_"
)

// BuildCommunitySummaries replaces every existing community-summary
// document with a freshly generated one per qualifying community.
func (h *Handle) BuildCommunitySummaries(ctx context.Context, cfg CommunitySummaryConfig) (CommunitySummaryResult, error) {
	if cfg.Embed == nil {
		return CommunitySummaryResult{}, &ConfigError{Field: "Embed", Msg: "required"}
	}
	if cfg.Summarize == nil {
		return CommunitySummaryResult{}, &ConfigError{Field: "Summarize", Msg: "required"}
	}
	minSize := cfg.MinCommunitySize
	if minSize <= 0 {
		minSize = 2
	}

	pool, err := h.ensurePool(ctx)
	if err != nil {
		return CommunitySummaryResult{}, err
	}

	if _, err := pool.Exec(ctx, `
		DELETE FROM documents WHERE metadata->>'`+metaTypeKey+`' = $1
	`, communitySummaryType); err != nil {
		return CommunitySummaryResult{}, &DatabaseError{Op: "delete community summaries", Err: err}
	}

	rows, err := pool.Query(ctx, `
		SELECT community_id, title, content
		FROM documents
		WHERE community_id IS NOT NULL
		  AND COALESCE(metadata->>'`+metaTypeKey+`', '') != $1
		ORDER BY community_id
	`, communitySummaryType)
	if err != nil {
		return CommunitySummaryResult{}, &DatabaseError{Op: "list community members", Err: err}
	}

	members := make(map[int32][]Document)
	var order []int32
	for rows.Next() {
		var communityID int32
		var title, content string
		if err := rows.Scan(&communityID, &title, &content); err != nil {
			rows.Close()
			return CommunitySummaryResult{}, &DatabaseError{Op: "scan community member", Err: err}
		}
		if _, seen := members[communityID]; !seen {
			order = append(order, communityID)
		}
		members[communityID] = append(members[communityID], Document{Title: title, Content: content})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return CommunitySummaryResult{}, &DatabaseError{Op: "scan community members", Err: err}
	}
	rows.Close()

	var result CommunitySummaryResult
	for _, communityID := range order {
		docs := members[communityID]
		result.CommunitiesProcessed++
		if len(docs) < minSize {
			continue
		}

		text, err := cfg.Summarize(ctx, docs)
		if err != nil {
			return result, &EmbedError{Op: "summarize community", Err: err}
		}

		titles := make([]string, len(docs))
		for i, d := range docs {
			titles[i] = d.Title
		}

		summaryDoc := Document{
			Title:   fmt.Sprintf("%s%d", communityTitlePrefix, communityID),
			Content: text,
			Metadata: map[string]any{
				metaTypeKey:         communitySummaryType,
				metaCommunityIDKey:  int(communityID),
				metaMemberTitlesKey: titles,
			},
		}
		if _, err := h.Ingest(ctx, []Document{summaryDoc}, IngestConfig{Embed: cfg.Embed, Chunk: cfg.Chunk}); err != nil {
			return result, err
		}
		result.SummariesGenerated++
	}

	return result, nil
}

// GlobalQuery runs one vector search for query, generates a partial answer
// per community-summary document from the results whose titles belong to
// that community, and generates a final answer from the combined partials.
func (h *Handle) GlobalQuery(ctx context.Context, cfg GlobalQueryConfig) (GlobalQueryResult, error) {
	if cfg.Embed == nil {
		return GlobalQueryResult{}, &ConfigError{Field: "Embed", Msg: "required"}
	}
	if cfg.Generate == nil {
		return GlobalQueryResult{}, &ConfigError{Field: "Generate", Msg: "required"}
	}
	rerank := cfg.Rerank
	if rerank == nil {
		rerank = NoopReranker{}
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}

	pool, err := h.ensurePool(ctx)
	if err != nil {
		return GlobalQueryResult{}, err
	}

	rows, err := pool.Query(ctx, `
		SELECT title, metadata->>'`+metaCommunityIDKey+`', metadata->'`+metaMemberTitlesKey+`'
		FROM documents
		WHERE metadata->>'`+metaTypeKey+`' = $1
		ORDER BY (metadata->>'`+metaCommunityIDKey+`')::int
	`, communitySummaryType)
	if err != nil {
		return GlobalQueryResult{}, &DatabaseError{Op: "list community summaries", Err: err}
	}

	type summaryDoc struct {
		title        string
		communityID  int32
		memberTitles []string
	}
	var summaries []summaryDoc
	for rows.Next() {
		var title string
		var communityIDStr string
		var memberTitles []string
		if err := rows.Scan(&title, &communityIDStr, &memberTitles); err != nil {
			rows.Close()
			return GlobalQueryResult{}, &DatabaseError{Op: "scan community summary", Err: err}
		}
		var communityID int32
		fmt.Sscanf(communityIDStr, "%d", &communityID)
		summaries = append(summaries, summaryDoc{title: title, communityID: communityID, memberTitles: memberTitles})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return GlobalQueryResult{}, err
	}
	rows.Close()

	if cfg.MaxCommunities > 0 && len(summaries) > cfg.MaxCommunities {
		summaries = summaries[:cfg.MaxCommunities]
	}

	results, err := h.Search(ctx, cfg.Embed, SearchConfig{Query: cfg.Query, Mode: ModeVector, Limit: limit})
	if err != nil {
		return GlobalQueryResult{}, err
	}

	var partials []PartialAnswer
	for _, s := range summaries {
		allowed := make(map[string]struct{}, len(s.memberTitles)+1)
		for _, t := range s.memberTitles {
			allowed[t] = struct{}{}
		}
		allowed[s.title] = struct{}{}

		filtered := make([]SearchResult, 0, len(results))
		for _, r := range results {
			if _, ok := allowed[r.Title]; ok {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			continue
		}

		texts := make([]string, len(filtered))
		for i, r := range filtered {
			texts[i] = r.Text
		}
		order, err := rerank.Rerank(ctx, cfg.Query, texts)
		if err != nil {
			return GlobalQueryResult{}, err
		}
		reordered := make([]SearchResult, len(order))
		for i, idx := range order {
			reordered[i] = filtered[idx]
		}

		contextStr := BuildContext(reordered)
		answer, err := cfg.Generate(ctx, contextStr, cfg.Query)
		if err != nil {
			return GlobalQueryResult{}, err
		}
		partials = append(partials, PartialAnswer{CommunityID: s.communityID, Answer: answer})
	}

	sort.Slice(partials, func(i, j int) bool { return partials[i].CommunityID < partials[j].CommunityID })

	var combined string
	for _, p := range partials {
		combined += fmt.Sprintf("[Community %d]\n%s\n\n", p.CommunityID, p.Answer)
	}
	finalAnswer, err := cfg.Generate(ctx, combined, cfg.Query)
	if err != nil {
		return GlobalQueryResult{}, err
	}

	return GlobalQueryResult{Answer: finalAnswer, PartialAnswers: partials}, nil
}
