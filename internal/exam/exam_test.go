package exam

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examwatch/examwatch/internal/token"
)

func testWindow() (time.Time, time.Time) {
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return start, start.Add(3 * time.Hour)
}

func TestWhitelistContainsExactMatch(t *testing.T) {
	w := Whitelist{"Notepad.exe", "calc.exe"}

	assert.True(t, w.Contains("Notepad.exe"))
	assert.True(t, w.Contains("calc.exe"))

	// Case-sensitive, no substring matching.
	assert.False(t, w.Contains("notepad.exe"))
	assert.False(t, w.Contains("Notepad"))
	assert.False(t, w.Contains("calc.exe "))
	assert.False(t, w.Contains(""))
}

func TestWhitelistEmpty(t *testing.T) {
	var w Whitelist
	assert.False(t, w.Contains("anything.exe"))
}

func TestNormalizeWhitelist(t *testing.T) {
	w := NormalizeWhitelist([]string{" notepad.exe ", "calc.exe", "notepad.exe", "", "  "})
	assert.Equal(t, Whitelist{"notepad.exe", "calc.exe"}, w)
}

func TestGenerateAccessCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := GenerateAccessCode()
		require.Len(t, code, AccessCodeLength)
		for _, r := range code {
			assert.Contains(t, accessCodeAlphabet, string(r))
		}
		assert.False(t, containsBlocked(code), "code %q contains blocked substring", code)
		seen[code] = true
	}
	// 200 draws from 36^6 should not all collide.
	assert.Greater(t, len(seen), 190)
}

func TestContainsBlocked(t *testing.T) {
	assert.True(t, containsBlocked("XASSX9"))
	assert.True(t, containsBlocked("SEX123"))
	assert.False(t, containsBlocked("ABC123"))
}

func TestServiceCreate(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, "exam-test-secret")
	start, end := testWindow()

	e, err := svc.Create(context.Background(), CreateInput{
		Title:       "Midterm",
		Description: "Closed book",
		WindowStart: start,
		WindowEnd:   end,
		Whitelist:   []string{"calc.exe", "calc.exe", ""},
		Activate:    true,
	})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Len(t, e.AccessCode, AccessCodeLength)
	assert.True(t, e.IsActive)
	assert.Equal(t, Whitelist{"calc.exe"}, e.Whitelist)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := store.GetByAccessCode(context.Background(), e.AccessCode)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestServiceCreateRejectsBadInput(t *testing.T) {
	svc := NewService(NewMemoryStore(), "exam-test-secret")
	start, end := testWindow()

	_, err := svc.Create(context.Background(), CreateInput{
		WindowStart: start, WindowEnd: end,
	})
	assert.Error(t, err, "missing title")

	_, err = svc.Create(context.Background(), CreateInput{
		Title: "Backwards", WindowStart: end, WindowEnd: start,
	})
	assert.Error(t, err, "inverted window")
}

func TestServiceToggleActivation(t *testing.T) {
	svc := NewService(NewMemoryStore(), "exam-test-secret")
	start, end := testWindow()

	e, err := svc.Create(context.Background(), CreateInput{
		Title: "Quiz", WindowStart: start, WindowEnd: end,
	})
	require.NoError(t, err)
	require.False(t, e.IsActive)

	toggled, err := svc.ToggleActivation(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)

	toggled, err = svc.ToggleActivation(context.Background(), e.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	_, err = svc.ToggleActivation(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceIssueToken(t *testing.T) {
	const secret = "exam-test-secret"
	svc := NewService(NewMemoryStore(), secret)
	start, end := testWindow()

	e, err := svc.Create(context.Background(), CreateInput{
		Title:       "Final",
		WindowStart: start,
		WindowEnd:   end,
		Whitelist:   []string{"notepad.exe"},
	})
	require.NoError(t, err)

	encoded, issued, err := svc.IssueToken(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, issued.ID)

	p, err := token.Decode(encoded, secret)
	require.NoError(t, err)
	assert.Equal(t, e.ID, p.TestID)
	assert.Equal(t, e.AccessCode, p.AccessCode)
	assert.Equal(t, []string{"notepad.exe"}, p.Processes)
	assert.True(t, start.Equal(p.WindowStart))
	assert.True(t, end.Equal(p.WindowEnd))

	_, _, err = svc.IssueToken(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCodeUniqueness(t *testing.T) {
	store := NewMemoryStore()
	start, end := testWindow()
	ctx := context.Background()

	a := &Exam{Title: "A", AccessCode: "SAME01", WindowStart: start, WindowEnd: end}
	require.NoError(t, store.Create(ctx, a))

	b := &Exam{Title: "B", AccessCode: "SAME01", WindowStart: start, WindowEnd: end}
	assert.ErrorIs(t, store.Create(ctx, b), ErrCodeTaken)
}

func TestMemoryStoreUpdateRekeysCode(t *testing.T) {
	store := NewMemoryStore()
	start, end := testWindow()
	ctx := context.Background()

	e := &Exam{Title: "A", AccessCode: "OLD001", WindowStart: start, WindowEnd: end}
	require.NoError(t, store.Create(ctx, e))

	e.AccessCode = "NEW001"
	require.NoError(t, store.Update(ctx, e))

	_, err := store.GetByAccessCode(ctx, "OLD001")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.GetByAccessCode(ctx, "NEW001")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestMemoryStoreCopiesWhitelist(t *testing.T) {
	store := NewMemoryStore()
	start, end := testWindow()
	ctx := context.Background()

	e := &Exam{Title: "A", AccessCode: strings.Repeat("A", 6),
		WindowStart: start, WindowEnd: end, Whitelist: Whitelist{"calc.exe"}}
	require.NoError(t, store.Create(ctx, e))

	got, err := store.GetByID(ctx, e.ID)
	require.NoError(t, err)
	got.Whitelist[0] = "mutated.exe"

	again, err := store.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, Whitelist{"calc.exe"}, again.Whitelist)
}
