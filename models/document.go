package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type Visibility string
type ApprovalStatus string
type EmbeddingStatus string

const (
	VisibilityPublic          Visibility = "public"
	VisibilityInstitutionOnly Visibility = "institution_only"
	VisibilityRestricted      Visibility = "restricted"
	VisibilityConfidential    Visibility = "confidential"

	StatusDraft            ApprovalStatus = "draft"
	StatusPending          ApprovalStatus = "pending"
	StatusUnderReview      ApprovalStatus = "under_review"
	StatusChangesRequested ApprovalStatus = "changes_requested"
	StatusRejected         ApprovalStatus = "rejected"
	StatusApproved         ApprovalStatus = "approved"
	StatusArchived         ApprovalStatus = "archived"
	StatusFlagged          ApprovalStatus = "flagged"
	StatusExpired          ApprovalStatus = "expired"

	EmbeddingNotEmbedded EmbeddingStatus = "not_embedded"
	EmbeddingInProgress  EmbeddingStatus = "embedding"
	EmbeddingEmbedded    EmbeddingStatus = "embedded"
	EmbeddingFailed      EmbeddingStatus = "failed"
)

var ValidVisibilities = map[Visibility]bool{
	VisibilityPublic:          true,
	VisibilityInstitutionOnly: true,
	VisibilityRestricted:      true,
	VisibilityConfidential:    true,
}

var ValidApprovalStatuses = map[ApprovalStatus]bool{
	StatusDraft:            true,
	StatusPending:          true,
	StatusUnderReview:      true,
	StatusChangesRequested: true,
	StatusRejected:         true,
	StatusApproved:         true,
	StatusArchived:         true,
	StatusFlagged:          true,
	StatusExpired:          true,
}

// GroundableStatuses are the approval states whose content may ground
// answers. Draft content is additionally permitted for the uploader.
var GroundableStatuses = map[ApprovalStatus]bool{
	StatusApproved:    true,
	StatusPending:     true,
	StatusUnderReview: true,
}

// Document is an uploaded file plus its lifecycle state. Visibility and
// InstitutionID are immutable for the lifetime of the row; a visibility
// change is modeled as a new document revision. Only ApprovalStatus mutates.
type Document struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UploaderID    uuid.UUID  `json:"uploader_id" gorm:"type:uuid;not null;index"`
	InstitutionID uuid.UUID  `json:"institution_id" gorm:"type:uuid;not null;index:idx_documents_inst_status"`
	Visibility    Visibility `json:"visibility" gorm:"type:varchar(50);not null"`

	ApprovalStatus      ApprovalStatus `json:"approval_status" gorm:"type:varchar(50);not null;default:'draft';index:idx_documents_inst_status"`
	RequiresUpperReview bool           `json:"requires_upper_review" gorm:"default:false"`
	EscalatedAt         *time.Time     `json:"escalated_at,omitempty"`
	ApproverID          *uuid.UUID     `json:"approver_id,omitempty" gorm:"type:uuid"`
	ApprovedAt          *time.Time     `json:"approved_at,omitempty"`
	RejectionReason     *string        `json:"rejection_reason,omitempty"`

	ObjectURL string `json:"object_url" gorm:"type:text;not null"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Document) TableName() string {
	return "beacon.documents"
}

// DocumentMetadata is owned exclusively by its document. EmbeddingStatus is
// the CAS cell that serializes lazy embedding builds.
type DocumentMetadata struct {
	DocumentID uuid.UUID      `json:"document_id" gorm:"type:uuid;primary_key"`
	Title      string         `json:"title" gorm:"type:varchar(500);not null"`
	Summary    string         `json:"summary" gorm:"type:text"`
	Keywords   pq.StringArray `json:"keywords" gorm:"type:text[]"`
	Department string         `json:"department" gorm:"type:varchar(255)"`

	EmbeddingStatus    EmbeddingStatus `json:"embedding_status" gorm:"type:varchar(50);not null;default:'not_embedded'"`
	EmbeddingStartedAt *time.Time      `json:"embedding_started_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (DocumentMetadata) TableName() string {
	return "beacon.document_metadata"
}

// DocumentText holds extracted text when the extraction pipeline has run.
// Absent rows mean the raw bytes must be fetched from the object store.
type DocumentText struct {
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;primary_key"`
	Text       string    `json:"text" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentText) TableName() string {
	return "beacon.document_texts"
}

// EmbeddingChunk is one embedded window of a document. The visibility,
// institution_id and approval_status columns are denormalized from the owning
// document at write time so the vector search can filter before ranking.
// They are a weak cache, not a source of truth: visibility and institution_id
// never change on the document, and approval_status is re-synced after every
// workflow transition.
type EmbeddingChunk struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DocumentID uuid.UUID       `json:"document_id" gorm:"type:uuid;not null;index"`
	ChunkIndex int             `json:"chunk_index" gorm:"not null"`
	Text       string          `json:"text" gorm:"type:text;not null"`
	Embedding  pgvector.Vector `json:"-" gorm:"type:vector(1024)"`

	Visibility     Visibility     `json:"visibility" gorm:"type:varchar(50);not null"`
	InstitutionID  uuid.UUID      `json:"institution_id" gorm:"type:uuid;not null"`
	ApprovalStatus ApprovalStatus `json:"approval_status" gorm:"type:varchar(50);not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (EmbeddingChunk) TableName() string {
	return "beacon.embedding_chunks"
}

// AuditEvent is an append-only record of a consequential action.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ActorID   uuid.UUID      `json:"actor_id" gorm:"type:uuid;not null;index"`
	Verb      string         `json:"verb" gorm:"type:varchar(100);not null"`
	TargetID  *uuid.UUID     `json:"target_id,omitempty" gorm:"type:uuid;index"`
	Details   datatypes.JSON `json:"details" gorm:"type:jsonb;default:'{}'"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:now()"`
}

func (AuditEvent) TableName() string {
	return "beacon.audit_events"
}

type CreateDocumentRequest struct {
	InstitutionID uuid.UUID  `json:"institution_id" validate:"required"`
	Visibility    Visibility `json:"visibility" validate:"required"`
	ObjectURL     string     `json:"object_url" validate:"required"`
	Title         string     `json:"title" validate:"required,min=1,max=500"`
	Summary       string     `json:"summary"`
	Keywords      []string   `json:"keywords"`
	Department    string     `json:"department"`
	Text          string     `json:"text,omitempty"` // pre-extracted text, when available
}

type TransitionRequest struct {
	ToState             ApprovalStatus `json:"to_state" validate:"required"`
	Reason              *string        `json:"reason,omitempty"`
	RequiresUpperReview *bool          `json:"requires_upper_review,omitempty"`
}

// DocumentSummary is the list-view projection of a document.
type DocumentSummary struct {
	ID             uuid.UUID      `json:"id"`
	Title          string         `json:"title"`
	InstitutionID  uuid.UUID      `json:"institution_id"`
	Visibility     Visibility     `json:"visibility"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	UploaderID     uuid.UUID      `json:"uploader_id"`
	Department     string         `json:"department"`
	CreatedAt      time.Time      `json:"created_at"`
}

type DocumentListFilter struct {
	InstitutionID *uuid.UUID      `json:"institution_id"`
	Status        *ApprovalStatus `json:"status"`
	Department    *string         `json:"department"`
	Search        string          `json:"search"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
}

type DocumentListResponse struct {
	Documents []DocumentSummary `json:"documents"`
	Total     int64             `json:"total"`
	Page      int               `json:"page"`
	Size      int               `json:"size"`
}
