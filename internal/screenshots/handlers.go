package screenshots

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for screenshot retrieval.
type Handler struct {
	service *Service
}

// NewHandler creates a new screenshot handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up screenshot retrieval.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/screenshots/:id", h.GetScreenshot)
}

// GetScreenshot handles GET /api/v1/screenshots/:id. Inline frames come
// back base64-encoded; externally-hosted frames come back as their link.
func (h *Handler) GetScreenshot(c *gin.Context) {
	shot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "screenshot_not_found", "message": "no such screenshot"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
		return
	}

	resp := gin.H{
		"id":        shot.ID,
		"sessionId": shot.SessionID,
		"score":     shot.Score,
		"createdAt": shot.CreatedAt,
	}
	if shot.URL != "" {
		resp["url"] = shot.URL
	} else {
		resp["contentType"] = shot.ContentType
		resp["image"] = base64.StdEncoding.EncodeToString(shot.Data)
	}
	c.JSON(http.StatusOK, resp)
}
