package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/beacon-core/models"
)

type InstitutionService interface {
	CreateMinistry(ctx context.Context, req models.CreateMinistryRequest, viewer models.Viewer) (*models.Institution, error)
	CreateInstitution(ctx context.Context, req models.CreateInstitutionRequest, viewer models.Viewer) (*models.Institution, error)
	GetInstitution(ctx context.Context, id uuid.UUID) (*models.Institution, error)
	ListMinistries(ctx context.Context) ([]models.Institution, error)

	// Descendants returns the ministry itself plus every non-deleted
	// institution filed under it. A missing or deleted ministry is NotFound,
	// never an empty list.
	Descendants(ctx context.Context, ministryID uuid.UUID) ([]models.Institution, error)
	DeleteInstitution(ctx context.Context, id uuid.UUID, viewer models.Viewer) error
}

// IdentityService resolves accounts into viewers. ResolveViewer is on the hot
// path of every request and is backed by a cache with request coalescing.
type IdentityService interface {
	RegisterUser(ctx context.Context, req models.RegisterUserRequest) (*models.User, error)
	ApproveUser(ctx context.Context, userID uuid.UUID, viewer models.Viewer) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ResolveViewer(ctx context.Context, userID uuid.UUID) (models.Viewer, error)
	InvalidateViewer(ctx context.Context, userID uuid.UUID) error
}

type DocumentService interface {
	CreateDocument(ctx context.Context, req models.CreateDocumentRequest, viewer models.Viewer) (*models.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID, viewer models.Viewer) (*models.Document, *models.DocumentMetadata, error)
	ListDocuments(ctx context.Context, filter models.DocumentListFilter, viewer models.Viewer) (*models.DocumentListResponse, error)
	DeleteDocument(ctx context.Context, id uuid.UUID, viewer models.Viewer) error

	// Transition applies one approval-workflow edge and, when the edge
	// changes groundability, re-syncs the denormalized chunk columns.
	Transition(ctx context.Context, id uuid.UUID, req models.TransitionRequest, viewer models.Viewer) (*models.Document, error)

	GetMetadata(ctx context.Context, id uuid.UUID) (*models.DocumentMetadata, error)
	GetDocumentText(ctx context.Context, id uuid.UUID) (*models.DocumentText, error)

	// GetDocumentForEmbedding loads a document with system authority for the
	// embedding pipeline. It must never be exposed through a handler.
	GetDocumentForEmbedding(ctx context.Context, id uuid.UUID) (*models.Document, error)

	// ClaimEmbedding atomically moves embedding_status to 'embedding' and
	// reports whether this caller won the claim. Stale in-progress claims
	// older than the reclaim window are taken over. A 'failed' status is
	// only re-claimed when retry is set; without it the claim is refused so
	// callers surface the failure instead of silently rebuilding.
	ClaimEmbedding(ctx context.Context, id uuid.UUID, retry bool) (bool, error)
	// FailEmbedding releases a claim after a build error.
	FailEmbedding(ctx context.Context, id uuid.UUID) error
}

// AuditService appends to the audit trail. Recording failures are logged,
// never propagated; an audit miss must not fail the action it describes.
type AuditService interface {
	Record(ctx context.Context, actorID uuid.UUID, verb string, targetID *uuid.UUID, details map[string]interface{})
	ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]models.AuditEvent, error)
}
