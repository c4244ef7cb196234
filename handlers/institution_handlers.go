package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/beacon-core/auth"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type InstitutionHandlers struct {
	institutionService services.InstitutionService
	identityService    services.IdentityService
	jwtValidator       *auth.JWTValidator
}

func NewInstitutionHandlers(
	institutionService services.InstitutionService,
	identityService services.IdentityService,
	jwtValidator *auth.JWTValidator,
) *InstitutionHandlers {
	return &InstitutionHandlers{
		institutionService: institutionService,
		identityService:    identityService,
		jwtValidator:       jwtValidator,
	}
}

func (h *InstitutionHandlers) CreateMinistry(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	var req models.CreateMinistryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ministry, err := h.institutionService.CreateMinistry(c.Request.Context(), req, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ministry)
}

func (h *InstitutionHandlers) CreateInstitution(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	var req models.CreateInstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	inst, err := h.institutionService.CreateInstitution(c.Request.Context(), req, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (h *InstitutionHandlers) GetInstitution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid institution ID"})
		return
	}

	inst, err := h.institutionService.GetInstitution(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *InstitutionHandlers) ListMinistries(c *gin.Context) {
	ministries, err := h.institutionService.ListMinistries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ministries": ministries})
}

func (h *InstitutionHandlers) ListInstitutions(c *gin.Context) {
	ministryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ministry ID"})
		return
	}

	institutions, err := h.institutionService.Descendants(c.Request.Context(), ministryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"institutions": institutions})
}

func (h *InstitutionHandlers) DeleteInstitution(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid institution ID"})
		return
	}

	if err := h.institutionService.DeleteInstitution(c.Request.Context(), id, viewer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Institution deleted"})
}

func (h *InstitutionHandlers) RegisterUser(c *gin.Context) {
	var req models.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.identityService.RegisterUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	// A fresh token lets public_viewer accounts start querying immediately;
	// other roles hold the token until an admin approves them.
	token, err := h.jwtValidator.GenerateToken(user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

func (h *InstitutionHandlers) ApproveUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	if err := h.identityService.ApproveUser(c.Request.Context(), id, viewer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User approved"})
}

func (h *InstitutionHandlers) GetCurrentUser(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	user, err := h.identityService.GetUser(c.Request.Context(), viewer.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
