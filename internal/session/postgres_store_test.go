package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examwatch/examwatch/internal/exam"
	"github.com/examwatch/examwatch/internal/testutil"
)

func pgSession(id string, testID int64, student string) *Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Session{
		ID:          id,
		TestID:      testID,
		StudentRef:  student,
		Status:      StatusActive,
		Whitelist:   exam.Whitelist{"calc.exe"},
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now.Add(time.Hour),
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgresSessionRoundtrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	s := pgSession("ses_pgtest1", 42, "alice")
	require.NoError(t, store.CreateSession(ctx, s))

	got, err := store.GetSession(ctx, "ses_pgtest1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, int64(42), got.TestID)
	assert.Equal(t, "alice", got.StudentRef)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, exam.Whitelist{"calc.exe"}, got.Whitelist)
	assert.Nil(t, got.EndedAt)

	_, err = store.GetSession(ctx, "ses_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresFindOpenSession(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	s := pgSession("ses_pgopen", 7, "bob")
	require.NoError(t, store.CreateSession(ctx, s))

	open, err := store.FindOpenSession(ctx, 7, "bob")
	require.NoError(t, err)
	assert.Equal(t, "ses_pgopen", open.ID)

	// Closing the session removes it from the open lookup.
	ended := time.Now().UTC().Truncate(time.Microsecond)
	s.Status = StatusCompleted
	s.EndedAt = &ended
	require.NoError(t, store.UpdateSession(ctx, s))

	_, err = store.FindOpenSession(ctx, 7, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindOpenSession(ctx, 7, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpdatePersistsAggregate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	s := pgSession("ses_pgupd", 9, "carol")
	require.NoError(t, store.CreateSession(ctx, s))

	s.Status = StatusFlagged
	s.RiskScore = 0.85
	s.ScreenshotCount = 3
	require.NoError(t, store.UpdateSession(ctx, s))

	got, err := store.GetSession(ctx, "ses_pgupd")
	require.NoError(t, err)
	assert.Equal(t, StatusFlagged, got.Status)
	assert.InDelta(t, 0.85, got.RiskScore, 1e-9)
	assert.Equal(t, int64(3), got.ScreenshotCount)
}

func TestPostgresListSessionsByExam(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, pgSession("ses_pgl1", 100, "a")))
	require.NoError(t, store.CreateSession(ctx, pgSession("ses_pgl2", 100, "b")))
	require.NoError(t, store.CreateSession(ctx, pgSession("ses_pgl3", 200, "a")))

	sessions, err := store.ListSessionsByExam(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, int64(100), s.TestID)
	}
}

func TestPostgresEventLogOrdering(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, pgSession("ses_pgev", 5, "dave")))

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, kind := range []EventKind{KindScreenshot, KindFlag, KindUnauthorizedProcess} {
		e := &Event{
			ID:        "evt_pg" + string(rune('a'+i)),
			SessionID: "ses_pgev",
			Kind:      kind,
			Severity:  0.5,
			Detail:    "detail",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if kind == KindFlag {
			e.FlagType = "multiple_faces"
		}
		require.NoError(t, store.AppendEvent(ctx, e))
	}

	events, err := store.ListEvents(ctx, "ses_pgev")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, KindScreenshot, events[0].Kind)
	assert.Empty(t, events[0].FlagType)
	assert.Equal(t, KindFlag, events[1].Kind)
	assert.Equal(t, "multiple_faces", events[1].FlagType)
	assert.Equal(t, KindUnauthorizedProcess, events[2].Kind)

	// Events for an unknown session violate the FK.
	err = store.AppendEvent(ctx, &Event{
		ID:        "evt_pgorphan",
		SessionID: "ses_pgnope",
		Kind:      KindFlag,
		Severity:  0.5,
		CreatedAt: base,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresResultsUpsert(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, pgSession("ses_pgres", 11, "eve")))

	// No submission yet.
	answers, err := store.GetResults(ctx, "ses_pgres")
	require.NoError(t, err)
	assert.Nil(t, answers)

	first := []Answer{{QuestionID: 1, Answer: "A"}}
	require.NoError(t, store.SaveResults(ctx, "ses_pgres", first))

	// Resubmission replaces, not appends.
	second := []Answer{{QuestionID: 1, Answer: "B"}, {QuestionID: 2, Answer: "C"}}
	require.NoError(t, store.SaveResults(ctx, "ses_pgres", second))

	answers, err = store.GetResults(ctx, "ses_pgres")
	require.NoError(t, err)
	assert.Equal(t, second, answers)

	// Results for an unknown session hit the FK.
	err = store.SaveResults(ctx, "ses_pgnope", first)
	assert.ErrorIs(t, err, ErrNotFound)
}
