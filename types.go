package ragpg

import "context"

// Embedder embeds a batch of texts into fixed-width dense vectors, in
// input order. The core never depends on a particular embedding provider —
// callers wire their own HTTP/gRPC client behind this single method.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Reranker reorders a set of candidate texts for a query, returning the
// permutation of indices into texts in the new order. Used by GlobalQuery's
// optional rerank step.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]int, error)
}

// NoopReranker returns the identity ordering.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, texts []string) ([]int, error) {
	order := make([]int, len(texts))
	for i := range order {
		order[i] = i
	}
	return order, nil
}

// Document is one input to Ingest.
type Document struct {
	Title    string
	Content  string
	Metadata map[string]any
}

// RelationTarget is a relation edge's target, accepting either a bare title
// or {title, type, weight} at the call site.
type RelationTarget struct {
	Title  string
	Type   *string
	Weight *float64
}

// ChunkOptions is passed through to the chunker unmodified.
type ChunkOptions struct {
	ChunkSize int
	Overlap   int
	Normalize func(string) string
}

// IngestConfig configures one Ingest call.
type IngestConfig struct {
	Embed          Embedder
	Chunk          ChunkOptions
	TransformChunk func(chunkText string, doc Document) string
	BatchSize      int
	BackupPath     string
	Relations      map[string][]RelationTarget
	OnProgress     func(title string, current, total int)
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	DocumentsInserted   int
	DuplicatesSkipped   int
	ChunksInserted      int
	ChunksReused        int
	RelationsInserted   int
	UnresolvedRelations []string
	CommunitiesDetected int
	// RecoveredErrors collects one typed error (*DuplicateContentError,
	// *UnresolvedRelationError) per recovered condition, in the order
	// encountered, so callers can errors.As over the specific condition
	// instead of only the summarized counters/titles above.
	RecoveredErrors []error
}

// SearchMode selects which retrieval legs run.
type SearchMode string

const (
	ModeVector SearchMode = "vector"
	ModeBM25   SearchMode = "bm25"
	ModeHybrid SearchMode = "hybrid"
)

// ResultMode tags the provenance of a single SearchResult.
type ResultMode string

const (
	ResultVector    ResultMode = "vector"
	ResultBM25      ResultMode = "bm25"
	ResultGraph     ResultMode = "graph"
	ResultCommunity ResultMode = "community"
)

// SearchConfig configures one search call.
type SearchConfig struct {
	Query           string
	VectorQuery     string
	Mode            SearchMode
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

// SearchResult is one ranked chunk returned by Search.
type SearchResult struct {
	ID           int64
	DocumentID   int64
	Title        string
	Text         string
	Score        float64
	Mode         ResultMode
	CommunityID  *int32
	RelationType *string
}

// DocumentStats is a read-only convenience summary for a document.
type DocumentStats struct {
	DocumentID  int64
	Title       string
	ChunkCount  int
	CommunityID *int32
}

// ExportResult summarizes one ExportBackup call.
type ExportResult struct {
	DocumentsExported int
	OutputPath        string
}

// ValidateResult summarizes one ValidateBackup call.
type ValidateResult struct {
	Valid           bool
	TotalDocuments  int
	TotalChunks     int
	Dimensions      map[int]struct{}
	Errors          []string
	DuplicateHashes []string
}

// ImportResult summarizes one ImportBackup call.
type ImportResult struct {
	DocumentsImported int
	ChunksInserted    int
	DuplicatesSkipped int
	Warnings          []string
	// RecoveredErrors collects one typed error (*DimensionMismatchError,
	// *DuplicateContentError) per recovered condition, in the order
	// encountered, alongside the human-readable Warnings above.
	RecoveredErrors []error
}

// CommunitySummaryConfig configures BuildCommunitySummaries.
type CommunitySummaryConfig struct {
	Embed            Embedder
	Summarize        func(ctx context.Context, members []Document) (string, error)
	MinCommunitySize int
	Chunk            ChunkOptions
}

// CommunitySummaryResult summarizes one BuildCommunitySummaries call.
type CommunitySummaryResult struct {
	CommunitiesProcessed int
	SummariesGenerated   int
}

// GlobalQueryConfig configures GlobalQuery.
type GlobalQueryConfig struct {
	Embed          Embedder
	Generate       func(ctx context.Context, retrievedContext, query string) (string, error)
	Query          string
	Limit          int
	MaxCommunities int
	Rerank         Reranker
}

// PartialAnswer is one community's answer contribution to a GlobalQuery call.
type PartialAnswer struct {
	CommunityID int32
	Answer      string
}

// GlobalQueryResult summarizes one GlobalQuery call.
type GlobalQueryResult struct {
	Answer         string
	PartialAnswers []PartialAnswer
}
