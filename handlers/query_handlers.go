package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type QueryHandlers struct {
	answerer  services.Answerer
	retriever services.Retriever
	memory    services.ThreadMemoryService
}

func NewQueryHandlers(answerer services.Answerer, retriever services.Retriever, memory services.ThreadMemoryService) *QueryHandlers {
	return &QueryHandlers{
		answerer:  answerer,
		retriever: retriever,
		memory:    memory,
	}
}

// Query answers a question with citations.
func (h *QueryHandlers) Query(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.answerer.Answer(c.Request.Context(), viewer, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Retrieve exposes raw hybrid retrieval, without answer generation.
func (h *QueryHandlers) Retrieve(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	// Absent top_k means the configured default; an explicit 0 is honoured
	// and returns an empty list.
	topK, err := strconv.Atoi(c.DefaultQuery("top_k", "-1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid top_k"})
		return
	}
	result, err := h.retriever.Retrieve(c.Request.Context(), viewer, req.Query, topK)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *QueryHandlers) GetThread(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	messages, err := h.memory.GetThread(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *QueryHandlers) ClearThread(c *gin.Context) {
	viewer, ok := getViewer(c)
	if !ok {
		return
	}

	if err := h.memory.ClearThread(c.Request.Context(), viewer, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Thread cleared"})
}
