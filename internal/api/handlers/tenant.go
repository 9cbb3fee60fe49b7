package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/db"
)

type CreateTenantRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=255"`
	PersonaTopic string `json:"persona_topic" binding:"required"`
	Timezone     string `json:"timezone" binding:"required"`
	PostingHours []int  `json:"posting_hours" binding:"required,min=1,dive,min=0,max=23"`
	Active       *bool  `json:"active" binding:"required"`
}

type UpdateTenantRequest struct {
	Name         *string `json:"name"`
	PersonaTopic *string `json:"persona_topic"`
	Timezone     *string `json:"timezone"`
	PostingHours *[]int  `json:"posting_hours"`
	Active       *bool   `json:"active"`
}

func validateSchedule(timezone string, hours []int) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return errors.New("invalid timezone")
	}
	seen := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return errors.New("posting hours must be between 0 and 23")
		}
		if _, dup := seen[h]; dup {
			return errors.New("posting hours must be unique")
		}
		seen[h] = struct{}{}
	}
	return nil
}

func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validateSchedule(req.Timezone, req.PostingHours); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	tenant := &db.Tenant{
		ID:           uuid.New().String(),
		Name:         req.Name,
		PersonaTopic: req.PersonaTopic,
		Timezone:     req.Timezone,
		PostingHours: req.PostingHours,
		Active:       *req.Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.repo.CreateTenant(tenant); err != nil {
		h.logger.Error("Failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tenant"})
		return
	}

	h.logger.Info("Tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("name", tenant.Name),
	)
	c.JSON(http.StatusCreated, tenant)
}

func (h *Handler) GetTenant(c *gin.Context) {
	tenant, err := h.repo.GetTenant(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to get tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (h *Handler) ListTenants(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	tenants, err := h.repo.ListTenants(limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"page":    page,
		"limit":   limit,
	})
}

func (h *Handler) UpdateTenant(c *gin.Context) {
	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant, err := h.repo.GetTenant(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to get tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.PersonaTopic != nil {
		tenant.PersonaTopic = *req.PersonaTopic
	}
	if req.Timezone != nil {
		tenant.Timezone = *req.Timezone
	}
	if req.PostingHours != nil {
		tenant.PostingHours = *req.PostingHours
	}
	if req.Active != nil {
		tenant.Active = *req.Active
	}

	if err := validateSchedule(tenant.Timezone, tenant.PostingHours); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.UpdateTenant(tenant); err != nil {
		h.logger.Error("Failed to update tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tenant"})
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (h *Handler) DeleteTenant(c *gin.Context) {
	if err := h.repo.DeleteTenant(c.Param("id")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to delete tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete tenant"})
		return
	}

	c.Status(http.StatusNoContent)
}
