package models

import (
	"time"

	"github.com/google/uuid"
)

// EnsureResult is the outcome of an ensure-embedded call.
type EnsureResult string

const (
	EnsureReady    EnsureResult = "ready"
	EnsureNotReady EnsureResult = "not_ready"
	EnsureFailed   EnsureResult = "failed"
)

// RetrievedChunk is a chunk returned by retrieval, carrying its fused score
// and the access columns it was filtered under.
type RetrievedChunk struct {
	DocumentID     uuid.UUID      `json:"document_id"`
	Title          string         `json:"title,omitempty"`
	ChunkIndex     int            `json:"chunk_index"`
	Text           string         `json:"text"`
	Score          float64        `json:"score"`
	Visibility     Visibility     `json:"visibility,omitempty"`
	InstitutionID  uuid.UUID      `json:"institution_id,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	UploaderID     uuid.UUID      `json:"uploader_id,omitempty"`
}

// RetrievalResult contains the fused, re-ranked chunks for a query. Degraded
// is set when one retrieval leg failed and the other served alone.
type RetrievalResult struct {
	Chunks          []RetrievedChunk `json:"chunks"`
	Degraded        bool             `json:"degraded,omitempty"`
	TotalCandidates int              `json:"total_candidates"`
	RetrievalTimeMs int              `json:"retrieval_time_ms"`
}

// KeywordHit is a metadata match from the keyword leg. Chunk-less hits fuse
// at chunk index 0.
type KeywordHit struct {
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	Rank       int       `json:"rank"`
}

// Citation points an answer back at a source document. Confidence is the
// fused score of the best chunk consumed from that document.
type Citation struct {
	DocumentID     uuid.UUID      `json:"document_id"`
	Title          string         `json:"title"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	Confidence     float64        `json:"confidence"`
}

type QueryRequest struct {
	Query    string  `json:"query" validate:"required,min=1"`
	ThreadID *string `json:"thread_id,omitempty"`
}

// AnswerResult is the answerer's response: grounded text plus the citations
// backing it. Confidence aggregates the per-citation confidences.
type AnswerResult struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Degraded   bool       `json:"degraded,omitempty"`
	ToolCalls  int        `json:"tool_calls"`
}

// ThreadMessage is one turn of a query thread's conversation memory.
type ThreadMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
