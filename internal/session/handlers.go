package session

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/examwatch/examwatch/internal/access"
	"github.com/examwatch/examwatch/internal/exam"
	"github.com/examwatch/examwatch/internal/screenshots"
	"github.com/examwatch/examwatch/internal/token"
	"github.com/examwatch/examwatch/internal/validation"
)

// Handler provides HTTP endpoints for proctoring clients and examiners.
type Handler struct {
	manager   *Manager
	validator *access.Validator
	shots     *screenshots.Service
}

// NewHandler creates a new session handler.
func NewHandler(manager *Manager, validator *access.Validator, shots *screenshots.Service) *Handler {
	return &Handler{manager: manager, validator: validator, shots: shots}
}

// RegisterPublicRoutes sets up routes hit by proctoring clients.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/validate-code", h.ValidateCode)
	r.POST("/sessions", h.StartSession)
	r.POST("/sessions/:id/screenshots", h.RecordScreenshot)
	r.POST("/sessions/:id/flags", h.RaiseFlag)
	r.POST("/sessions/:id/processes", h.ReportProcess)
	r.POST("/sessions/:id/end", h.EndSession)
	r.POST("/results", h.SubmitResults)
}

// RegisterExaminerRoutes sets up API-key-protected session views.
func (h *Handler) RegisterExaminerRoutes(r *gin.RouterGroup) {
	r.GET("/sessions/:id", h.GetSession)
	r.GET("/exams/:id/sessions", h.ListExamSessions)
}

// accessRequest is the shared credential shape: a sealed token plus the
// announced code, or the code alone.
type accessRequest struct {
	AccessToken string `json:"accessToken"`
	AccessCode  string `json:"accessCode" binding:"required"`
}

func (h *Handler) validate(c *gin.Context, req accessRequest) (*access.Grant, bool) {
	if !validation.IsValidAccessCode(req.AccessCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "accessCode must be 4-10 uppercase letters or digits"})
		return nil, false
	}

	var grant *access.Grant
	var err error
	if req.AccessToken != "" {
		grant, err = h.validator.ValidateToken(c.Request.Context(), req.AccessToken, req.AccessCode)
	} else {
		grant, err = h.validator.ValidatePlain(c.Request.Context(), req.AccessCode)
	}
	if err != nil {
		respondAccessErr(c, err)
		return nil, false
	}
	return grant, true
}

// ValidateCode handles POST /api/v1/validate-code. It runs the full access
// check without opening a session, so clients can pre-flight before the
// student commits.
func (h *Handler) ValidateCode(c *gin.Context) {
	var req accessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "accessCode required"})
		return
	}

	grant, ok := h.validate(c, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":                true,
		"examId":               grant.TestID,
		"title":                grant.Title,
		"whitelistedProcesses": grant.Whitelist,
		"windowStart":          grant.WindowStart,
		"windowEnd":            grant.WindowEnd,
	})
}

// StartSession handles POST /api/v1/sessions. Idempotent per student and
// exam: a retried start returns the already-open session with 200 instead
// of 201.
func (h *Handler) StartSession(c *gin.Context) {
	var req struct {
		accessRequest
		StudentName string `json:"studentName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "accessCode and studentName required"})
		return
	}

	grant, ok := h.validate(c, req.accessRequest)
	if !ok {
		return
	}

	s, created, err := h.manager.Start(c.Request.Context(),
		grant, validation.SanitizeString(req.StudentName, 200))
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, s)
}

// RecordScreenshot handles POST /api/v1/sessions/:id/screenshots. The
// frame is stored first; only then does its score fold into the session,
// so the stored event always references a retrievable frame.
func (h *Handler) RecordScreenshot(c *gin.Context) {
	var req struct {
		Score       float64 `json:"score"`
		Image       string  `json:"image"`
		ImageURL    string  `json:"imageUrl"`
		ContentType string  `json:"contentType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	if !validation.InRange(req.Score) {
		respondSessionErr(c, ErrInvalidSeverity)
		return
	}

	var data []byte
	if req.Image != "" {
		var err error
		data, err = base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "image must be base64"})
			return
		}
	}

	shot, err := h.shots.Save(c.Request.Context(), screenshots.SaveInput{
		SessionID:   c.Param("id"),
		ContentType: req.ContentType,
		Data:        data,
		URL:         req.ImageURL,
		Score:       req.Score,
	})
	if err != nil {
		if errors.Is(err, screenshots.ErrStorageUnavailable) {
			respondSessionErr(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	s, err := h.manager.RecordScreenshot(c.Request.Context(), c.Param("id"), req.Score, shot.ID)
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"screenshotId": shot.ID,
		"riskScore":    s.RiskScore,
		"status":       s.Status,
	})
}

// RaiseFlag handles POST /api/v1/sessions/:id/flags.
func (h *Handler) RaiseFlag(c *gin.Context) {
	var req struct {
		FlagType string  `json:"flagType"`
		Severity float64 `json:"severity"`
		Reason   string  `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	s, err := h.manager.RaiseFlag(c.Request.Context(), c.Param("id"),
		validation.SanitizeString(req.FlagType, 64),
		req.Severity, validation.SanitizeString(req.Reason, 1000))
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"riskScore": s.RiskScore, "status": s.Status})
}

// ReportProcess handles POST /api/v1/sessions/:id/processes.
func (h *Handler) ReportProcess(c *gin.Context) {
	var req struct {
		ProcessName string `json:"processName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "processName required"})
		return
	}
	if !validation.IsValidProcessName(req.ProcessName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "processName must be a bare executable name"})
		return
	}

	s, authorized, err := h.manager.ReportProcess(c.Request.Context(), c.Param("id"), req.ProcessName)
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorized": authorized,
		"riskScore":  s.RiskScore,
		"status":     s.Status,
	})
}

// EndSession handles POST /api/v1/sessions/:id/end.
func (h *Handler) EndSession(c *gin.Context) {
	s, err := h.manager.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    s.Status,
		"riskScore": s.RiskScore,
		"endedAt":   s.EndedAt,
	})
}

// SubmitResults handles POST /api/v1/results. Desktop clients batch their
// whole sitting into one upload: answers plus any screenshots and flags
// captured offline, optionally closing the session in the same request.
// Evidence folds through the same per-event paths as live reporting.
//
// Clients that never opened a live session submit a credential plus the
// student name instead of a session id; the open session for that
// (exam, student) pair is reused or created, same as POST /sessions.
func (h *Handler) SubmitResults(c *gin.Context) {
	var req struct {
		SessionID   string   `json:"sessionId"`
		AccessToken string   `json:"accessToken"`
		AccessCode  string   `json:"accessCode"`
		StudentName string   `json:"studentName"`
		Answers     []Answer `json:"answers" binding:"required"`
		Screenshots []struct {
			Score       float64 `json:"score"`
			Image       string  `json:"image"`
			ImageURL    string  `json:"imageUrl"`
			ContentType string  `json:"contentType"`
		} `json:"screenshots"`
		Flags []struct {
			FlagType string  `json:"flagType"`
			Severity float64 `json:"severity"`
			Reason   string  `json:"reason"`
		} `json:"flags"`
		End bool `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "answers required"})
		return
	}

	ctx := c.Request.Context()
	sessionID := req.SessionID
	if sessionID == "" {
		if req.AccessCode == "" || req.StudentName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionId, or accessCode and studentName, required"})
			return
		}
		grant, ok := h.validate(c, accessRequest{AccessToken: req.AccessToken, AccessCode: req.AccessCode})
		if !ok {
			return
		}
		s, _, err := h.manager.Start(ctx, grant, validation.SanitizeString(req.StudentName, 200))
		if err != nil {
			respondSessionErr(c, err)
			return
		}
		sessionID = s.ID
	}
	for _, shot := range req.Screenshots {
		if !validation.InRange(shot.Score) {
			respondSessionErr(c, ErrInvalidSeverity)
			return
		}
		var data []byte
		if shot.Image != "" {
			var err error
			data, err = base64.StdEncoding.DecodeString(shot.Image)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "image must be base64"})
				return
			}
		}
		saved, err := h.shots.Save(ctx, screenshots.SaveInput{
			SessionID:   sessionID,
			ContentType: shot.ContentType,
			Data:        data,
			URL:         shot.ImageURL,
			Score:       shot.Score,
		})
		if err != nil {
			if errors.Is(err, screenshots.ErrStorageUnavailable) {
				respondSessionErr(c, err)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		if _, err := h.manager.RecordScreenshot(ctx, sessionID, shot.Score, saved.ID); err != nil {
			respondSessionErr(c, err)
			return
		}
	}

	for _, f := range req.Flags {
		if _, err := h.manager.RaiseFlag(ctx, sessionID,
			validation.SanitizeString(f.FlagType, 64),
			f.Severity, validation.SanitizeString(f.Reason, 1000)); err != nil {
			respondSessionErr(c, err)
			return
		}
	}

	if err := h.manager.SubmitResults(ctx, sessionID, req.Answers); err != nil {
		respondSessionErr(c, err)
		return
	}

	resp := gin.H{"submitted": len(req.Answers)}
	if req.End {
		s, err := h.manager.End(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrClosed) {
			respondSessionErr(c, err)
			return
		}
		if s != nil {
			resp["status"] = s.Status
			resp["riskScore"] = s.RiskScore
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession handles GET /api/v1/sessions/:id (examiner view): the session
// row plus its full event log and any submitted results.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	s, err := h.manager.Get(ctx, c.Param("id"))
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	events, err := h.manager.Events(ctx, s.ID)
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	results, err := h.manager.Results(ctx, s.ID)
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": s,
		"events":  events,
		"results": results,
	})
}

// ListExamSessions handles GET /api/v1/exams/:id/sessions.
func (h *Handler) ListExamSessions(c *gin.Context) {
	id, ok := examIDParam(c)
	if !ok {
		return
	}
	sessions, err := h.manager.ListByExam(c.Request.Context(), id)
	if err != nil {
		respondSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func respondAccessErr(c *gin.Context, err error) {
	var owe *access.OutOfWindowError
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "token is invalid or tampered"})
	case errors.Is(err, access.ErrExamNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "exam_not_found", "message": "no exam matches the supplied credentials"})
	case errors.Is(err, access.ErrCodeMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "code_mismatch", "message": "access code does not match the token"})
	case errors.Is(err, access.ErrExamInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "exam_inactive", "message": "exam is not currently active"})
	case errors.As(err, &owe):
		c.JSON(http.StatusForbidden, gin.H{
			"error":       "out_of_window",
			"message":     owe.Error(),
			"windowStart": owe.Start,
			"windowEnd":   owe.End,
		})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
	}
}

func respondSessionErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found", "message": "no such session"})
	case errors.Is(err, ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session_closed", "message": "session already completed"})
	case errors.Is(err, ErrInvalidSeverity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_severity", "message": "severity must be between 0.0 and 1.0"})
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, exam.ErrStorageUnavailable),
		errors.Is(err, screenshots.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "try again shortly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unexpected failure"})
	}
}

func examIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "exam id must be a positive integer"})
		return 0, false
	}
	return id, true
}
