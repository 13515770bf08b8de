package draft_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"trailreport/internal/db"
	"trailreport/internal/domain"
	"trailreport/internal/draft"
	"trailreport/internal/migrate"
	"trailreport/internal/store"
)

// stepClock advances one second per reading so generated ids and timestamps
// stay distinct without sleeping.
type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager(t *testing.T) (*draft.Manager, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := draft.New(conn, zap.NewNop())
	clock := &stepClock{t: time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)}
	m.Now = clock.now
	m.Events.Now = clock.now
	return m, context.Background()
}

func addPhoto(t *testing.T, m *draft.Manager, ctx context.Context, id, formID string) {
	t.Helper()
	err := m.Store.InsertMedia(ctx, domain.MediaPhoto, domain.MediaEntry{
		ID:        id,
		FormID:    formID,
		Timestamp: "2025-02-01T08:00:00Z",
		File:      domain.FileBlob{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte{0xff}},
	})
	if err != nil {
		t.Fatalf("insert media: %v", err)
	}
}

func TestCreateDraftReusesActive(t *testing.T) {
	m, ctx := newTestManager(t)
	first, err := m.CreateDraft(ctx, domain.FormState{"reportTitle": "Morning groom"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first != second {
		t.Fatalf("expected one active draft, got %s and %s", first, second)
	}
	forms, err := m.Store.ListForms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forms) != 1 {
		t.Fatalf("expected 1 form, got %d", len(forms))
	}
}

func TestAutosaveMergesNestedMaps(t *testing.T) {
	m, ctx := newTestManager(t)
	id, err := m.CreateDraft(ctx, domain.FormState{
		"reportTitle": "Morning groom",
		"region":      "Vercors",
		"dropdownValues": map[string]any{
			"snowage": "fresh",
			"wetness": "dry",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = m.Autosave(ctx, id, domain.FormState{
		"note": "icy on north side",
		"dropdownValues": map[string]any{
			"wetness": "wet",
		},
	})
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
	state, err := m.Restore(ctx, id)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state["reportTitle"] != "Morning groom" || state["region"] != "Vercors" {
		t.Fatalf("unspecified keys lost: %v", state)
	}
	if state["note"] != "icy on north side" {
		t.Fatalf("new key missing: %v", state)
	}
	dd, ok := state["dropdownValues"].(map[string]any)
	if !ok {
		t.Fatalf("dropdownValues missing: %v", state)
	}
	if dd["snowage"] != "fresh" || dd["wetness"] != "wet" {
		t.Fatalf("nested merge wrong: %v", dd)
	}
}

func TestRestoreAbsentReturnsNil(t *testing.T) {
	m, ctx := newTestManager(t)
	state, err := m.Restore(ctx, "no-such-form")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state, got %v", state)
	}
}

func TestSubmitThenNewDraftRetention(t *testing.T) {
	m, ctx := newTestManager(t)

	first, err := m.CreateDraft(ctx, domain.FormState{"n": float64(1)})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	addPhoto(t, m, ctx, "p1", first)
	if err := m.MarkSubmitted(ctx, first); err != nil {
		t.Fatalf("submit first: %v", err)
	}

	second, err := m.CreateDraft(ctx, domain.FormState{"n": float64(2)})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second == first {
		t.Fatalf("submitted draft reused as active")
	}
	if err := m.MarkSubmitted(ctx, second); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	third, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create third: %v", err)
	}

	forms, err := m.Store.ListForms(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("retention should keep 2 forms, got %d", len(forms))
	}
	ids := map[string]bool{}
	for _, f := range forms {
		ids[f.ID] = true
	}
	if !ids[second] || !ids[third] {
		t.Fatalf("kept wrong forms: %v", ids)
	}
	// first form's media went with it
	if _, err := m.Store.GetMedia(ctx, domain.MediaPhoto, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cascade to remove p1, got %v", err)
	}
}

func TestMarkSubmittedTwiceFails(t *testing.T) {
	m, ctx := newTestManager(t)
	id, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.MarkSubmitted(ctx, id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.MarkSubmitted(ctx, id); !errors.Is(err, draft.ErrAlreadySubmitted) {
		t.Fatalf("second submit should report already submitted, got %v", err)
	}
}

func TestLifecycleEventsRecorded(t *testing.T) {
	m, ctx := newTestManager(t)
	id, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	evts, err := m.Events.Latest(ctx, 10, "", "form", id)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	if !types["draft.created"] || !types["draft.canceled"] {
		t.Fatalf("lifecycle events missing: %v", types)
	}
}

func TestCancelCascades(t *testing.T) {
	m, ctx := newTestManager(t)
	id, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	addPhoto(t, m, ctx, "p1", id)
	if err := m.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := m.Store.GetForm(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("form should be gone, got %v", err)
	}
	if _, err := m.Store.GetMedia(ctx, domain.MediaPhoto, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("media should be gone, got %v", err)
	}
	if err := m.Cancel(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second cancel should be not found, got %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	m, ctx := newTestManager(t)
	id, err := m.CreateDraft(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	addPhoto(t, m, ctx, "keep", id)
	addPhoto(t, m, ctx, "orphan", "gone-form")
	if err := m.SweepOrphans(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, err := m.Store.GetMedia(ctx, domain.MediaPhoto, "keep"); err != nil {
		t.Fatalf("kept media lost: %v", err)
	}
	if _, err := m.Store.GetMedia(ctx, domain.MediaPhoto, "orphan"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("orphan should be gone, got %v", err)
	}
}
