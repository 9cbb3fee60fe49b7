package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/generator"
)

type GeneratePreviewRequest struct {
	Topic string `json:"topic"`
}

// GeneratePreview runs the generation pipeline for a tenant without
// posting anything. The route is guarded by the rate-limit middleware
// since it spends real provider quota.
func (h *Handler) GeneratePreview(c *gin.Context) {
	tenantID := c.Param("id")

	tenant, err := h.repo.GetTenant(tenantID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to get tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req GeneratePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	topic := req.Topic
	if topic == "" {
		topic = tenant.PersonaTopic
	}

	content, err := h.generator.Generate(c.Request.Context(), tenantID, topic)
	if err != nil {
		if errors.Is(err, generator.ErrInvalidContent) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not produce valid content"})
			return
		}
		h.logger.Error("Preview generation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"topic":     topic,
		"content":   content,
	})
}

// RateLimitStatus reports the tenant's current quota without spending
// any of it.
func (h *Handler) RateLimitStatus(c *gin.Context) {
	tenantID := c.Param("id")

	if _, err := h.repo.GetTenant(tenantID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to get tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	info, err := h.limiter.Status(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to read rate limit status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limiter unavailable"})
		return
	}

	c.JSON(http.StatusOK, info)
}

func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

func (h *Handler) ClearCache(c *gin.Context) {
	h.cache.Clear()
	c.Status(http.StatusNoContent)
}
