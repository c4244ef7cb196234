package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacon-core/models"
)

// viewerKey is the gin context key the auth middleware stores the resolved
// viewer under.
const viewerKey = "viewer"

func getViewer(c *gin.Context) (models.Viewer, bool) {
	value, exists := c.Get(viewerKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No viewer in request context"})
		return models.Viewer{}, false
	}
	viewer, ok := value.(models.Viewer)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid viewer in request context"})
		return models.Viewer{}, false
	}
	return viewer, true
}

// respondError maps service-layer sentinel errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDimensionMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTransient), errors.Is(err, models.ErrRetrieve):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
