package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type AddKnowledgeRequest struct {
	Content  string                 `json:"content" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

type SearchKnowledgeRequest struct {
	Query  string                 `json:"query" binding:"required"`
	Filter map[string]interface{} `json:"filter"`
}

func (h *Handler) AddKnowledge(c *gin.Context) {
	var req AddKnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := h.knowledge.Add(req.Content, req.Metadata)
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) SearchKnowledge(c *gin.Context) {
	var req SearchKnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := h.knowledge.Search(req.Query, req.Filter)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) RemoveKnowledge(c *gin.Context) {
	if !h.knowledge.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
