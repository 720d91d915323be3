package exam

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/examwatch/examwatch/internal/validation"
)

// Handler provides HTTP endpoints for exam management.
type Handler struct {
	service *Service
}

// NewHandler creates a new exam handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterExaminerRoutes sets up exam routes that require API key auth.
func (h *Handler) RegisterExaminerRoutes(r *gin.RouterGroup) {
	r.POST("/exams", h.CreateExam)
	r.GET("/exams", h.ListExams)
	r.GET("/exams/:id", h.GetExam)
	r.POST("/exams/:id/activation", h.ToggleActivation)
	r.POST("/exams/:id/token", h.IssueToken)
}

// CreateExam handles POST /api/v1/exams.
func (h *Handler) CreateExam(c *gin.Context) {
	var req struct {
		Title       string    `json:"title" binding:"required"`
		Description string    `json:"description"`
		WindowStart time.Time `json:"windowStart" binding:"required"`
		WindowEnd   time.Time `json:"windowEnd" binding:"required"`
		Whitelist   []string  `json:"whitelistedProcesses"`
		Activate    bool      `json:"activate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "title, windowStart and windowEnd required"})
		return
	}

	validators := []func() *validation.ValidationError{
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("description", req.Description, 2000),
	}
	for _, p := range req.Whitelist {
		validators = append(validators, validation.ValidProcessName("whitelistedProcesses", p))
	}
	if verrs := validation.Validate(validators...); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": verrs.Error()})
		return
	}

	e, err := h.service.Create(c.Request.Context(), CreateInput{
		Title:       validation.SanitizeString(req.Title, 200),
		Description: validation.SanitizeString(req.Description, 2000),
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		Whitelist:   req.Whitelist,
		Activate:    req.Activate,
	})
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, e)
}

// ListExams handles GET /api/v1/exams.
func (h *Handler) ListExams(c *gin.Context) {
	exams, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exams": exams, "count": len(exams)})
}

// GetExam handles GET /api/v1/exams/:id.
func (h *Handler) GetExam(c *gin.Context) {
	id, ok := examID(c)
	if !ok {
		return
	}
	e, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondExamErr(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ToggleActivation handles POST /api/v1/exams/:id/activation.
func (h *Handler) ToggleActivation(c *gin.Context) {
	id, ok := examID(c)
	if !ok {
		return
	}
	e, err := h.service.ToggleActivation(c.Request.Context(), id)
	if err != nil {
		respondExamErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": e.ID, "isActive": e.IsActive})
}

// IssueToken handles POST /api/v1/exams/:id/token.
func (h *Handler) IssueToken(c *gin.Context) {
	id, ok := examID(c)
	if !ok {
		return
	}
	encoded, e, err := h.service.IssueToken(c.Request.Context(), id)
	if err != nil {
		respondExamErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"examId":      e.ID,
		"accessToken": encoded,
		"windowStart": e.WindowStart,
		"windowEnd":   e.WindowEnd,
	})
}

func examID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "exam id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func respondExamErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "exam_not_found", "message": "no such exam"})
	case errors.Is(err, ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unexpected failure"})
	}
}
