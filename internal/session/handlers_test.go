package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examwatch/examwatch/internal/access"
	"github.com/examwatch/examwatch/internal/exam"
	"github.com/examwatch/examwatch/internal/screenshots"
)

type apiFixture struct {
	router *gin.Engine
	exam   *exam.Exam
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	examStore := exam.NewMemoryStore()
	start := time.Now().UTC().Add(-time.Hour)
	e := &exam.Exam{
		Title:       "Midterm",
		AccessCode:  "ABC123",
		IsActive:    true,
		WindowStart: start,
		WindowEnd:   start.Add(4 * time.Hour),
		Whitelist:   exam.Whitelist{"calc.exe"},
	}
	require.NoError(t, examStore.Create(context.Background(), e))

	validator := access.NewValidator(examStore, "handler-test-secret")
	manager := NewManager(NewMemoryStore(), nil)
	shots := screenshots.NewService(screenshots.NewMemoryStore(), 1<<20)
	h := NewHandler(manager, validator, shots)

	router := gin.New()
	public := router.Group("/api/v1")
	h.RegisterPublicRoutes(public)
	h.RegisterExaminerRoutes(router.Group("/api/v1"))

	return &apiFixture{router: router, exam: e}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) startSession(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/sessions", gin.H{
		"accessCode":  "ABC123",
		"studentName": "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s.ID
}

func TestValidateCodeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/validate-code", gin.H{"accessCode": "ABC123"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Valid  bool   `json:"valid"`
		ExamID int64  `json:"examId"`
		Title  string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, f.exam.ID, resp.ExamID)
	assert.Equal(t, "Midterm", resp.Title)

	w = f.do(t, http.MethodPost, "/api/v1/validate-code", gin.H{"accessCode": "WRONG9"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Lowercase fails shape validation before any lookup.
	w = f.do(t, http.MethodPost, "/api/v1/validate-code", gin.H{"accessCode": "abc123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartSessionEndpointIdempotent(t *testing.T) {
	f := newAPIFixture(t)

	first := f.do(t, http.MethodPost, "/api/v1/sessions", gin.H{
		"accessCode": "ABC123", "studentName": "alice",
	})
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/sessions", gin.H{
		"accessCode": "ABC123", "studentName": "alice",
	})
	require.Equal(t, http.StatusOK, second.Code, "retry returns the open session")

	var a, b Session
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.ID, b.ID)
}

func TestScreenshotEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/screenshots", gin.H{
		"score": 0.4,
		"image": "aGVsbG8=",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		ScreenshotID string  `json:"screenshotId"`
		RiskScore    float64 `json:"riskScore"`
		Status       Status  `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ScreenshotID)
	assert.InDelta(t, 0.4, resp.RiskScore, 1e-9)
	assert.Equal(t, StatusActive, resp.Status)

	// Out-of-range score is rejected before anything is stored.
	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/screenshots", gin.H{
		"score": 1.5,
		"image": "aGVsbG8=",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlagEndpointFlagsSession(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/flags", gin.H{
		"flagType": "multiple_faces", "severity": 0.75, "reason": "second person in frame",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusFlagged, resp.Status)

	// The flag category lands on the recorded event.
	w = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Events []*Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "multiple_faces", detail.Events[0].FlagType)
}

func TestProcessEndpointVerdicts(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/processes", gin.H{
		"processName": "calc.exe",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Authorized bool `json:"authorized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Authorized)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/processes", gin.H{
		"processName": "cheatengine.exe",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Authorized)

	// Path-like names never reach the whitelist check.
	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/processes", gin.H{
		"processName": "C:\\evil\\calc.exe",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndEndpointAndClosedConflict(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/end", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/flags", gin.H{
		"severity": 0.5, "reason": "late",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResultsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"sessionId": id,
		"answers":   []gin.H{{"questionId": 1, "answer": "B"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"sessionId": "ses_missing",
		"answers":   []gin.H{{"questionId": 1, "answer": "B"}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkResultsSubmission(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	// One upload carries the whole sitting: evidence, answers, close.
	w := f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"sessionId": id,
		"answers":   []gin.H{{"questionId": 1, "answer": "B"}},
		"screenshots": []gin.H{
			{"score": 0.2, "image": "aGVsbG8="},
			{"score": 0.4, "image": "d29ybGQ="},
		},
		"flags": []gin.H{{"flagType": "phone_detected", "severity": 0.9, "reason": "phone visible"}},
		"end":   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Submitted int     `json:"submitted"`
		Status    Status  `json:"status"`
		RiskScore float64 `json:"riskScore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Submitted)
	assert.Equal(t, StatusFlagged, resp.Status)
	assert.InDelta(t, 0.9, resp.RiskScore, 1e-9)

	// The folded evidence is all in the event log.
	w = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Events []*Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Len(t, detail.Events, 3)

	// A late retry against the now-closed session still lands the answers.
	w = f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"sessionId": id,
		"answers":   []gin.H{{"questionId": 1, "answer": "C"}},
		"end":       true,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBulkResultsCreatesSessionWhenAbsent(t *testing.T) {
	// Desktop clients that proctored offline never called POST /sessions.
	// Submitting with a credential opens the session through the same
	// idempotent (exam, student) path.
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"accessCode":  "ABC123",
		"studentName": "bob",
		"answers":     []gin.H{{"questionId": 1, "answer": "A"}},
		"flags":       []gin.H{{"flagType": "gaze_away", "severity": 0.3, "reason": "looked left"}},
		"end":         true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The session exists and is closed with the folded evidence.
	lw := f.do(t, http.MethodGet, "/api/v1/exams/"+strconv.FormatInt(f.exam.ID, 10)+"/sessions", nil)
	require.Equal(t, http.StatusOK, lw.Code)
	var listed struct {
		Sessions []*Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, "bob", listed.Sessions[0].StudentRef)
	assert.Equal(t, StatusCompleted, listed.Sessions[0].Status)
	assert.InDelta(t, 0.3, listed.Sessions[0].RiskScore, 1e-9)

	// A retry with the same identity reuses the closed flow: the answers
	// land against a fresh open session rather than erroring.
	w = f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"accessCode":  "ABC123",
		"studentName": "bob",
		"answers":     []gin.H{{"questionId": 1, "answer": "B"}},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A bad credential is rejected before any session is touched.
	w = f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"accessCode":  "WRONG9",
		"studentName": "bob",
		"answers":     []gin.H{{"questionId": 1, "answer": "A"}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Neither a session id nor a credential: rejected outright.
	w = f.do(t, http.MethodPost, "/api/v1/results", gin.H{
		"answers": []gin.H{{"questionId": 1, "answer": "A"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSessionDetail(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startSession(t)

	fw := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/flags", gin.H{
		"severity": 0.3, "reason": "looked away",
	})
	require.Equal(t, http.StatusOK, fw.Code)

	w := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Session Session  `json:"session"`
		Events  []*Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Session.ID)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, KindFlag, resp.Events[0].Kind)
}
