package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/beacon-core/models"
)

// ObjectStoreFetcher pulls raw document bytes for text extraction. Fetch
// returns models.ErrTooLarge when the object exceeds the configured cap.
type ObjectStoreFetcher interface {
	Fetch(ctx context.Context, objectURL string) ([]byte, error)
}

// Chunker splits extracted text into overlapping windows. It is pure; an
// empty input yields no chunks.
type Chunker interface {
	Chunk(text string) []string
}

// Embedder produces fixed-dimension embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbeddingCoordinator lazily builds a document's embeddings on first
// retrieval demand, guaranteeing at most one concurrent build per document
// across the deployment. A document whose last build failed stays failed
// until a caller passes retry; EnsureMany never retries.
type EmbeddingCoordinator interface {
	EnsureEmbedded(ctx context.Context, documentID uuid.UUID, retry bool) (models.EnsureResult, error)
	EnsureMany(ctx context.Context, documentIDs []uuid.UUID) map[uuid.UUID]models.EnsureResult
}

type VectorStore interface {
	// UpsertDocumentChunks atomically replaces a document's chunks and marks
	// its metadata embedded, in one transaction. Embedding dimensions are
	// validated before any row is written.
	UpsertDocumentChunks(ctx context.Context, doc *models.Document, texts []string, embeddings [][]float32) error

	// Search runs nearest-neighbour search with the viewer's access
	// predicate pushed into the SQL, so unauthorized chunks never rank.
	Search(ctx context.Context, viewer models.Viewer, embedding []float32, limit int) ([]models.RetrievedChunk, error)

	// SearchDocument is Search narrowed to a single document, for targeted
	// follow-up lookups. The viewer predicate still applies in full.
	SearchDocument(ctx context.Context, viewer models.Viewer, documentID uuid.UUID, embedding []float32, limit int) ([]models.RetrievedChunk, error)

	// SyncApprovalStatus refreshes the denormalized approval_status column
	// on a document's chunks after a workflow transition.
	SyncApprovalStatus(ctx context.Context, documentID uuid.UUID, status models.ApprovalStatus) error

	DeleteDocumentChunks(ctx context.Context, documentID uuid.UUID) error
	CountDocumentChunks(ctx context.Context, documentID uuid.UUID) (int64, error)
}

// Retriever runs the hybrid pipeline: candidate discovery, lazy embedding
// ensure, parallel vector and keyword legs, reciprocal-rank fusion, and a
// final per-row access re-check.
type Retriever interface {
	// Retrieve runs the full hybrid pipeline. topK == 0 returns an empty
	// result without touching the embedder; negative topK means the
	// configured default.
	Retrieve(ctx context.Context, viewer models.Viewer, query string, topK int) (*models.RetrievalResult, error)

	// RetrieveIn searches within one document only, with the same access
	// predicate and approval filtering as Retrieve.
	RetrieveIn(ctx context.Context, viewer models.Viewer, documentID uuid.UUID, query string, topK int) (*models.RetrievalResult, error)
}

// Answerer turns a question into a grounded, cited answer via a bounded
// tool-calling loop over the retriever.
type Answerer interface {
	Answer(ctx context.Context, viewer models.Viewer, req models.QueryRequest) (*models.AnswerResult, error)
}

// CacheService caches retrieval results per viewer scope. Keys incorporate
// role and institution so a cache hit can never cross an access boundary.
type CacheService interface {
	GetCachedRetrieval(ctx context.Context, cacheKey string) (*models.RetrievalResult, error)
	SetCachedRetrieval(ctx context.Context, cacheKey string, result *models.RetrievalResult, ttlSeconds int) error
	InvalidateRetrieval(ctx context.Context, pattern string) error
	// InvalidateAllRetrieval drops every cached retrieval. Called after
	// workflow transitions so revoked content stops being served at once.
	InvalidateAllRetrieval(ctx context.Context) error
	RetrievalCacheKey(viewer models.Viewer, queryHash string) string
}

// ThreadMemoryService keeps short conversation buffers for query threads.
type ThreadMemoryService interface {
	GetThread(ctx context.Context, viewer models.Viewer, threadID string) ([]models.ThreadMessage, error)
	AppendMessage(ctx context.Context, viewer models.Viewer, threadID string, msg models.ThreadMessage) error
	ClearThread(ctx context.Context, viewer models.Viewer, threadID string) error
}

type LLMService interface {
	SendRequest(ctx context.Context, messages []Message) (*LLMResponse, error)
	SendRequestWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, toolChoice string) (*LLMResponse, error)
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool call requested by the LLM
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name and arguments for a tool call
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolDefinition defines a tool available for LLM function calling
type ToolDefinition struct {
	Type     string          `json:"type"` // "function"
	Function ToolFunctionDef `json:"function"`
}

// ToolFunctionDef defines a function that can be called by the LLM
type ToolFunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"` // JSON Schema
}

type LLMResponse struct {
	Content        string     `json:"content"`
	Model          string     `json:"model"`
	TokenUsage     int        `json:"token_usage"`
	ResponseTimeMs int        `json:"response_time_ms"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	FinishReason   string     `json:"finish_reason,omitempty"`
}
