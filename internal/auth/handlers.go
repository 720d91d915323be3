package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examwatch/examwatch/internal/validation"
)

// Handler provides HTTP endpoints for API key management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterAdminRoutes sets up key minting behind the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/keys", h.CreateKey)
}

// RegisterExaminerRoutes sets up self-service key management.
func (h *Handler) RegisterExaminerRoutes(r *gin.RouterGroup) {
	r.GET("/keys", h.ListKeys)
	r.DELETE("/keys/:keyId", h.RevokeKey)
}

// CreateKey handles POST /api/v1/admin/keys. The raw key appears in this
// response only.
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		ExaminerRef string `json:"examinerRef" binding:"required"`
		Name        string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "examinerRef required"})
		return
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(),
		validation.SanitizeString(req.ExaminerRef, 255),
		validation.SanitizeString(req.Name, 255))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"key":     rawKey,
		"keyInfo": key,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /api/v1/keys for the authenticated examiner.
func (h *Handler) ListKeys(c *gin.Context) {
	ref := GetAuthenticatedExaminer(c)
	keys, err := h.manager.ListKeys(c.Request.Context(), ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /api/v1/keys/:keyId.
func (h *Handler) RevokeKey(c *gin.Context) {
	ref := GetAuthenticatedExaminer(c)
	err := h.manager.RevokeKey(c.Request.Context(), c.Param("keyId"), ref)
	if err == ErrKeyNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "key_not_found", "message": "no such key for this examiner"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
