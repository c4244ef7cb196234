package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type DocumentHandlers struct {
	documentService services.DocumentService
	coordinator     services.EmbeddingCoordinator
	auditService    services.AuditService
}

func NewDocumentHandlers(documentService services.DocumentService, coordinator services.EmbeddingCoordinator, auditService services.AuditService) *DocumentHandlers {
	return &DocumentHandlers{
		documentService: documentService,
		coordinator:     coordinator,
		auditService:    auditService,
	}
}

func (h *DocumentHandlers) CreateDocument(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	var req models.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	doc, err := h.documentService.CreateDocument(c.Request.Context(), req, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandlers) GetDocument(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	doc, meta, err := h.documentService.GetDocument(c.Request.Context(), id, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "metadata": meta})
}

func (h *DocumentHandlers) ListDocuments(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	filter := models.DocumentListFilter{
		Search: c.Query("search"),
	}
	if raw := c.Query("institution_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid institution_id filter"})
			return
		}
		filter.InstitutionID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := models.ApprovalStatus(raw)
		if !models.ValidApprovalStatuses[status] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("department"); raw != "" {
		filter.Department = &raw
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))

	response, err := h.documentService.ListDocuments(c.Request.Context(), filter, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *DocumentHandlers) DeleteDocument(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	if err := h.documentService.DeleteDocument(c.Request.Context(), id, viewer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

func (h *DocumentHandlers) TransitionDocument(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	var req models.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	doc, err := h.documentService.Transition(c.Request.Context(), id, req, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// EmbedDocument triggers an embedding build for a document the viewer can
// see. Passing retry=true re-attempts a build that previously failed.
func (h *DocumentHandlers) EmbedDocument(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	if _, _, err := h.documentService.GetDocument(c.Request.Context(), id, viewer); err != nil {
		respondError(c, err)
		return
	}

	retry, _ := strconv.ParseBool(c.DefaultQuery("retry", "false"))
	result, err := h.coordinator.EnsureEmbedded(c.Request.Context(), id, retry)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result})
}

// EvaluateAccess reports whether the viewer can see a document. Denied and
// absent both answer allowed=false, so the checked id leaks nothing.
func (h *DocumentHandlers) EvaluateAccess(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	if _, _, err := h.documentService.GetDocument(c.Request.Context(), id, viewer); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"allowed": false})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}

// GetDocumentMetadata returns only the metadata record, for viewers who can
// see the document.
func (h *DocumentHandlers) GetDocumentMetadata(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	_, meta, err := h.documentService.GetDocument(c.Request.Context(), id, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// GetDocumentAudit returns the audit trail for a document. Only viewers who
// can see the document may read its trail.
func (h *DocumentHandlers) GetDocumentAudit(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
		return
	}

	if _, _, err := h.documentService.GetDocument(c.Request.Context(), id, viewer); err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.auditService.ListByTarget(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
