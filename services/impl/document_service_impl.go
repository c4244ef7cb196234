package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
	"github.com/beacon-core/services/access"
)

type documentServiceImpl struct {
	db           *gorm.DB
	vectors      services.VectorStore
	audit        services.AuditService
	cache        services.CacheService
	reclaimAfter time.Duration
}

// NewDocumentService wires the document workflow. cache may be nil; when set,
// cached retrievals are dropped whenever a transition or delete changes what
// a query may serve.
func NewDocumentService(db *gorm.DB, vectors services.VectorStore, audit services.AuditService, cache services.CacheService, reclaimAfter time.Duration) services.DocumentService {
	return &documentServiceImpl{
		db:           db,
		vectors:      vectors,
		audit:        audit,
		cache:        cache,
		reclaimAfter: reclaimAfter,
	}
}

func (s *documentServiceImpl) CreateDocument(ctx context.Context, req models.CreateDocumentRequest, viewer models.Viewer) (*models.Document, error) {
	if err := validateCreateDocument(req); err != nil {
		return nil, err
	}
	if err := s.checkUploadPermission(ctx, req.InstitutionID, viewer); err != nil {
		return nil, err
	}

	now := time.Now()
	doc := &models.Document{
		ID:             uuid.New(),
		UploaderID:     viewer.UserID,
		InstitutionID:  req.InstitutionID,
		Visibility:     req.Visibility,
		ApprovalStatus: models.StatusDraft,
		ObjectURL:      req.ObjectURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Uploads by the roles that would approve them skip the review queue.
	if autoApproves(viewer.Role) {
		doc.ApprovalStatus = models.StatusApproved
		doc.ApproverID = &viewer.UserID
		doc.ApprovedAt = &now
	}
	meta := &models.DocumentMetadata{
		DocumentID:      doc.ID,
		Title:           req.Title,
		Summary:         req.Summary,
		Keywords:        req.Keywords,
		Department:      req.Department,
		EmbeddingStatus: models.EmbeddingNotEmbedded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		if err := tx.Create(meta).Error; err != nil {
			return fmt.Errorf("failed to create document metadata: %w", err)
		}
		if req.Text != "" {
			text := &models.DocumentText{DocumentID: doc.ID, Text: req.Text, CreatedAt: now}
			if err := tx.Create(text).Error; err != nil {
				return fmt.Errorf("failed to store document text: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, viewer.UserID, "document.create", &doc.ID, map[string]interface{}{
		"institution": doc.InstitutionID.String(),
		"visibility":  string(doc.Visibility),
		"title":       meta.Title,
	})

	return doc, nil
}

// autoApproves reports whether documents uploaded by the role are born
// approved instead of draft.
func autoApproves(role models.Role) bool {
	return role == models.RoleDeveloper || role == models.RoleMinistryAdmin
}

func validateCreateDocument(req models.CreateDocumentRequest) error {
	if !models.ValidVisibilities[req.Visibility] {
		return fmt.Errorf("invalid visibility %q", req.Visibility)
	}
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(req.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less")
	}
	if req.ObjectURL == "" {
		return fmt.Errorf("object_url is required")
	}
	if req.InstitutionID == uuid.Nil {
		return fmt.Errorf("institution_id is required")
	}
	return nil
}

func (s *documentServiceImpl) checkUploadPermission(ctx context.Context, institutionID uuid.UUID, viewer models.Viewer) error {
	var count int64
	s.db.WithContext(ctx).Model(&models.Institution{}).
		Where("id = ? AND deleted_at IS NULL", institutionID).
		Count(&count)
	if count == 0 {
		return fmt.Errorf("institution %s: %w", institutionID, models.ErrNotFound)
	}

	switch viewer.Role {
	case models.RoleDeveloper:
		return nil
	case models.RoleMinistryAdmin, models.RoleInstitutionAdmin, models.RoleDocumentOfficer:
		if viewer.SameInstitution(institutionID) {
			return nil
		}
		return fmt.Errorf("uploads are limited to the viewer's own institution: %w", models.ErrUnauthorized)
	}
	return fmt.Errorf("role %s may not upload documents: %w", viewer.Role, models.ErrUnauthorized)
}

func (s *documentServiceImpl) GetDocument(ctx context.Context, id uuid.UUID, viewer models.Viewer) (*models.Document, *models.DocumentMetadata, error) {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// Denied and absent are indistinguishable to the caller.
	if !access.CanView(viewer, access.RowFromDocument(doc)) {
		return nil, nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}

	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, meta, nil
}

func (s *documentServiceImpl) loadDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *documentServiceImpl) ListDocuments(ctx context.Context, filter models.DocumentListFilter, viewer models.Viewer) (*models.DocumentListResponse, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 || size > 100 {
		size = 20
	}

	predicate, args := access.SQLQualified(viewer, func(col string) string { return "d." + col })

	query := s.db.WithContext(ctx).
		Table("beacon.documents AS d").
		Joins("JOIN beacon.document_metadata AS m ON m.document_id = d.id").
		Where("d.deleted_at IS NULL").
		Where(predicate, args...)

	if filter.InstitutionID != nil {
		query = query.Where("d.institution_id = ?", *filter.InstitutionID)
	}
	if filter.Status != nil {
		query = query.Where("d.approval_status = ?", *filter.Status)
	}
	if filter.Department != nil {
		query = query.Where("m.department = ?", *filter.Department)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("(m.title ILIKE ? OR m.summary ILIKE ?)", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	var documents []models.DocumentSummary
	err := query.
		Select("d.id, m.title, d.institution_id, d.visibility, d.approval_status, d.uploader_id, m.department, d.created_at").
		Order("d.created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Scan(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return &models.DocumentListResponse{
		Documents: documents,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

func (s *documentServiceImpl) DeleteDocument(ctx context.Context, id uuid.UUID, viewer models.Viewer) error {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return err
	}

	allowed := viewer.Role == models.RoleDeveloper ||
		viewer.UserID == doc.UploaderID ||
		(viewer.Role == models.RoleInstitutionAdmin && viewer.SameInstitution(doc.InstitutionID))
	if !allowed {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"deleted_at": &now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	// Chunks of a deleted document must never surface in retrieval.
	if err := s.vectors.DeleteDocumentChunks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateAllRetrieval(ctx); err != nil {
			return fmt.Errorf("failed to invalidate retrieval cache: %w", err)
		}
	}

	s.audit.Record(ctx, viewer.UserID, "document.delete", &id, nil)
	return nil
}

func (s *documentServiceImpl) Transition(ctx context.Context, id uuid.UUID, req models.TransitionRequest, viewer models.Viewer) (*models.Document, error) {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanView(viewer, access.RowFromDocument(doc)) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}

	parentMinistryID, err := s.parentMinistryOf(ctx, doc.InstitutionID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(viewer, doc, parentMinistryID, req.ToState); err != nil {
		return nil, err
	}

	now := time.Now()
	updates, err := transitionUpdates(viewer, req.ToState, req.Reason, now)
	if err != nil {
		return nil, err
	}

	// Escalation can only be raised by the institution's own reviewers and
	// only while the document is in review flow.
	if req.RequiresUpperReview != nil && *req.RequiresUpperReview && !doc.RequiresUpperReview {
		canEscalate := viewer.Role == models.RoleDeveloper ||
			(viewer.Role == models.RoleInstitutionAdmin && viewer.SameInstitution(doc.InstitutionID))
		if !canEscalate {
			return nil, fmt.Errorf("role %s may not escalate: %w", viewer.Role, models.ErrUnauthorized)
		}
		if req.ToState != models.StatusPending && req.ToState != models.StatusUnderReview {
			return nil, fmt.Errorf("escalation is only valid while in review: %w", models.ErrInvalidTransition)
		}
		updates["requires_upper_review"] = true
		updates["escalated_at"] = now
	}

	// Guard on the previous status so two concurrent transitions cannot both
	// apply; the loser sees zero rows and retries against fresh state.
	result := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND approval_status = ?", id, doc.ApprovalStatus).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to transition document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("document %s changed concurrently: %w", id, models.ErrInvalidTransition)
	}

	// Keep the denormalized chunk column in step with the document.
	if err := s.vectors.SyncApprovalStatus(ctx, id, req.ToState); err != nil {
		return nil, fmt.Errorf("failed to sync chunk approval status: %w", err)
	}

	// Cached retrievals may hold chunks whose groundability just changed.
	if s.cache != nil {
		if err := s.cache.InvalidateAllRetrieval(ctx); err != nil {
			return nil, fmt.Errorf("failed to invalidate retrieval cache: %w", err)
		}
	}

	details := map[string]interface{}{
		"from": string(doc.ApprovalStatus),
		"to":   string(req.ToState),
	}
	if req.Reason != nil {
		details["reason"] = *req.Reason
	}
	s.audit.Record(ctx, viewer.UserID, "document.transition", &id, details)

	return s.loadDocument(ctx, id)
}

// parentMinistryOf resolves the parent ministry of an institution for
// upper-authority checks. Ministries return nil.
// transitionUpdates builds the column updates for a status change. Both
// review-feedback edges demand a reason so the uploader knows what to fix.
func transitionUpdates(viewer models.Viewer, to models.ApprovalStatus, reason *string, now time.Time) (map[string]interface{}, error) {
	updates := map[string]interface{}{
		"approval_status": to,
		"updated_at":      now,
	}

	switch to {
	case models.StatusApproved:
		updates["approver_id"] = viewer.UserID
		updates["approved_at"] = now
		updates["rejection_reason"] = nil
	case models.StatusRejected:
		if reason == nil || *reason == "" {
			return nil, fmt.Errorf("rejection requires a reason")
		}
		updates["rejection_reason"] = *reason
	case models.StatusChangesRequested:
		if reason == nil || *reason == "" {
			return nil, fmt.Errorf("requesting changes requires a reason")
		}
		updates["rejection_reason"] = *reason
	case models.StatusDraft:
		updates["rejection_reason"] = nil
	}
	return updates, nil
}

func (s *documentServiceImpl) parentMinistryOf(ctx context.Context, institutionID uuid.UUID) (*uuid.UUID, error) {
	var inst models.Institution
	if err := s.db.WithContext(ctx).Where("id = ?", institutionID).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("institution %s: %w", institutionID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load institution: %w", err)
	}
	return inst.ParentMinistryID, nil
}

func (s *documentServiceImpl) GetDocumentForEmbedding(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return s.loadDocument(ctx, id)
}

func (s *documentServiceImpl) GetMetadata(ctx context.Context, id uuid.UUID) (*models.DocumentMetadata, error) {
	var meta models.DocumentMetadata
	if err := s.db.WithContext(ctx).Where("document_id = ?", id).First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("metadata for document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document metadata: %w", err)
	}
	return &meta, nil
}

func (s *documentServiceImpl) GetDocumentText(ctx context.Context, id uuid.UUID) (*models.DocumentText, error) {
	var text models.DocumentText
	if err := s.db.WithContext(ctx).Where("document_id = ?", id).First(&text).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("text for document %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document text: %w", err)
	}
	return &text, nil
}

// ClaimEmbedding moves embedding_status to 'embedding' under a row lock and
// reports whether this caller won. Claims abandoned longer than the reclaim
// window are taken over; a live claim or an already-embedded document
// returns false. A failed build is only re-claimed when retry is set.
func (s *documentServiceImpl) ClaimEmbedding(ctx context.Context, id uuid.UUID, retry bool) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta models.DocumentMetadata
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", id).
			First(&meta).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("metadata for document %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to lock document metadata: %w", err)
		}

		switch meta.EmbeddingStatus {
		case models.EmbeddingEmbedded:
			return nil
		case models.EmbeddingFailed:
			if !retry {
				return nil
			}
		case models.EmbeddingInProgress:
			if meta.EmbeddingStartedAt != nil && time.Since(*meta.EmbeddingStartedAt) < s.reclaimAfter {
				return nil
			}
			// Stale claim from a crashed builder; take it over.
		}

		now := time.Now()
		err = tx.Model(&models.DocumentMetadata{}).
			Where("document_id = ?", id).
			Updates(map[string]interface{}{
				"embedding_status":     models.EmbeddingInProgress,
				"embedding_started_at": now,
				"updated_at":           now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to claim embedding: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *documentServiceImpl) FailEmbedding(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.DocumentMetadata{}).
		Where("document_id = ?", id).
		Updates(map[string]interface{}{
			"embedding_status":     models.EmbeddingFailed,
			"embedding_started_at": nil,
			"updated_at":           time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release embedding claim: %w", err)
	}
	return nil
}
