package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSendAllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventRiskEvent, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSendEventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventSessionFlagged, EventSessionEnded},
	}}

	if !h.shouldSend(client, &Event{Type: EventSessionFlagged}) {
		t.Error("should receive session_flagged events")
	}
	if !h.shouldSend(client, &Event{Type: EventSessionEnded}) {
		t.Error("should receive session_ended events")
	}
	if h.shouldSend(client, &Event{Type: EventRiskEvent}) {
		t.Error("should NOT receive risk_event events")
	}
}

func TestShouldSendSessionFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{SessionIDs: []string{"ses_watched"}}}

	matching := &Event{
		Type: EventRiskEvent,
		Data: map[string]any{"sessionId": "ses_watched", "severity": 0.5},
	}
	other := &Event{
		Type: EventRiskEvent,
		Data: map[string]any{"sessionId": "ses_other", "severity": 0.5},
	}
	// Session payloads carry their id under "id".
	sessionPayload := &Event{
		Type: EventSessionFlagged,
		Data: map[string]any{"id": "ses_watched"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("should receive events for the watched session")
	}
	if h.shouldSend(client, other) {
		t.Error("should NOT receive events for other sessions")
	}
	if !h.shouldSend(client, sessionPayload) {
		t.Error("should match session payloads by their id field")
	}
}

func TestShouldSendExamFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{ExamIDs: []int64{7}}}

	if !h.shouldSend(client, &Event{Type: EventSessionStarted, Data: map[string]any{"testId": float64(7)}}) {
		t.Error("should receive events for the watched exam")
	}
	if h.shouldSend(client, &Event{Type: EventSessionStarted, Data: map[string]any{"testId": float64(8)}}) {
		t.Error("should NOT receive events for other exams")
	}
}

func TestShouldSendMinSeverity(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinSeverity: 0.6}}

	low := &Event{Type: EventRiskEvent, Data: map[string]any{"severity": 0.3}}
	high := &Event{Type: EventRiskEvent, Data: map[string]any{"severity": 0.9}}
	ended := &Event{Type: EventSessionEnded, Data: map[string]any{}}

	if h.shouldSend(client, low) {
		t.Error("should filter low-severity risk events")
	}
	if !h.shouldSend(client, high) {
		t.Error("should pass high-severity risk events")
	}
	if !h.shouldSend(client, ended) {
		t.Error("MinSeverity only applies to risk events")
	}
}

// ---------------------------------------------------------------------------
// Publish / lifecycle tests
// ---------------------------------------------------------------------------

func TestPublishFlattensPayload(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	type payload struct {
		SessionID string  `json:"sessionId"`
		Severity  float64 `json:"severity"`
	}
	h.Publish("risk_event", payload{SessionID: "ses_a", Severity: 0.8})

	deadline := time.After(2 * time.Second)
	for h.totalEvents.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("published event never reached the hub loop")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	// Upgrades after shutdown are refused via the done channel.
	select {
	case <-h.done:
	default:
		t.Fatal("done channel should be closed after Run exits")
	}
}
