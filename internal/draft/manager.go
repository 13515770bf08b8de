package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trailreport/internal/domain"
	"trailreport/internal/events"
	"trailreport/internal/store"
)

// ErrAlreadySubmitted rejects a second submission of the same form.
var ErrAlreadySubmitted = errors.New("already submitted")

// Manager owns the single active (unsubmitted) form record: creation,
// autosave, restore, submission marking, and the retention policy that keeps
// at most one unsubmitted plus one most-recently-submitted record alive.
type Manager struct {
	DB     *sql.DB
	Store  store.Store
	Events events.Writer
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, log *zap.Logger) *Manager {
	return &Manager{
		DB:     db,
		Store:  store.Store{DB: db},
		Events: events.Writer{DB: db},
		Log:    log,
		Now:    time.Now,
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// newFormID returns a time-ordered id so "most recent" comparisons stay
// meaningful without parsing timestamps.
func newFormID(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

// CreateDraft returns the active draft's id, reusing an existing unsubmitted
// record when one exists so at most one ever does. Retention cleanup runs
// before a new record is created.
func (m *Manager) CreateDraft(ctx context.Context, initial domain.FormState) (string, error) {
	if existing, err := m.Store.ActiveForm(ctx); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if err := m.RetentionCleanup(ctx); err != nil {
		return "", err
	}
	now := m.now()
	f := domain.FormRecord{
		ID:           newFormID(now),
		FormState:    initial,
		LastModified: now.UTC().Format(time.RFC3339),
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := m.Store.InsertFormTx(ctx, tx, f); err != nil {
		return "", err
	}
	if err := m.Events.Append(ctx, tx, "draft.created", "form", f.ID, nil); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return f.ID, nil
}

// Autosave merges a snapshot into the stored form state. Unspecified keys
// are preserved; nested maps merge key-wise. Safe to call on a fixed
// interval; last writer wins per field.
func (m *Manager) Autosave(ctx context.Context, formID string, snapshot domain.FormState) error {
	f, err := m.Store.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	merged := mergeState(f.FormState, snapshot)
	ts := m.now().UTC().Format(time.RFC3339)
	return m.Store.UpdateFormState(ctx, formID, merged, ts, ts)
}

// RunAutosave calls snapshot and Autosave on every tick until ctx is done.
// Failures are logged and do not stop the timer.
func (m *Manager) RunAutosave(ctx context.Context, formID string, interval time.Duration, snapshot func() domain.FormState) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Autosave(ctx, formID, snapshot()); err != nil {
				m.Log.Warn("autosave failed", zap.String("form_id", formID), zap.Error(err))
			}
		}
	}
}

// Restore fetches the saved form state; absent records yield nil, not an
// error.
func (m *Manager) Restore(ctx context.Context, formID string) (domain.FormState, error) {
	f, err := m.Store.GetForm(ctx, formID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f.FormState, nil
}

// Active returns the current unsubmitted form, or ErrNotFound.
func (m *Manager) Active(ctx context.Context) (domain.FormRecord, error) {
	return m.Store.ActiveForm(ctx)
}

// MarkSubmitted flips the record to submitted exactly once, then runs
// retention cleanup so only this record and a future draft survive.
func (m *Manager) MarkSubmitted(ctx context.Context, formID string) error {
	f, err := m.Store.GetForm(ctx, formID)
	if err != nil {
		return err
	}
	if f.Submitted {
		return fmt.Errorf("form %s: %w", formID, ErrAlreadySubmitted)
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	submittedAt := m.now().UTC().Format(time.RFC3339)
	if err := m.Store.MarkFormSubmittedTx(ctx, tx, formID, submittedAt); err != nil {
		return err
	}
	if err := m.Events.Append(ctx, tx, "draft.submitted", "form", formID, events.EventPayload{"submitted_at": submittedAt}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return m.RetentionCleanup(ctx)
}

// Cancel deletes the form and cascades to its media. Media rows go first so
// an interrupted cancel never strands blobs behind a missing form; the form
// delete and the canceled event commit together.
func (m *Manager) Cancel(ctx context.Context, formID string) error {
	if _, err := m.Store.GetForm(ctx, formID); err != nil {
		return err
	}
	if err := m.Store.DeleteMediaByForm(ctx, domain.MediaPhoto, formID); err != nil {
		return err
	}
	if err := m.Store.DeleteMediaByForm(ctx, domain.MediaVideo, formID); err != nil {
		return err
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Store.DeleteFormTx(ctx, tx, formID); err != nil {
		return err
	}
	if err := m.Events.Append(ctx, tx, "draft.canceled", "form", formID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// cascadeDelete removes media rows first, then the form row. Each step is
// idempotent, so an interrupted cascade converges when re-run from either
// step. The store offers no cross-collection transaction here; ordering
// guarantees no form row ever outlives its media without a sweep catching it.
func (m *Manager) cascadeDelete(ctx context.Context, formID string) error {
	if err := m.Store.DeleteMediaByForm(ctx, domain.MediaPhoto, formID); err != nil {
		return err
	}
	if err := m.Store.DeleteMediaByForm(ctx, domain.MediaVideo, formID); err != nil {
		return err
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Store.DeleteFormTx(ctx, tx, formID); err != nil {
		return err
	}
	return tx.Commit()
}

// RetentionCleanup keeps the unsubmitted record (if any) and the single most
// recent submitted record; everything else is cascade-deleted. Idempotent.
func (m *Manager) RetentionCleanup(ctx context.Context) error {
	forms, err := m.Store.ListForms(ctx)
	if err != nil {
		return err
	}
	var newestSubmitted *domain.FormRecord
	for i := range forms {
		f := forms[i]
		if !f.Submitted {
			continue
		}
		if newestSubmitted == nil || submittedAfter(f, *newestSubmitted) {
			newestSubmitted = &forms[i]
		}
	}
	var keptUnsubmitted bool
	for _, f := range forms {
		if !f.Submitted && !keptUnsubmitted {
			keptUnsubmitted = true
			continue
		}
		if newestSubmitted != nil && f.ID == newestSubmitted.ID {
			continue
		}
		if err := m.cascadeDelete(ctx, f.ID); err != nil {
			return err
		}
		m.Log.Info("retention cleanup removed form", zap.String("form_id", f.ID), zap.Bool("submitted", f.Submitted))
	}
	return nil
}

// SweepOrphans deletes media rows whose form no longer exists.
func (m *Manager) SweepOrphans(ctx context.Context) error {
	forms, err := m.Store.ListForms(ctx)
	if err != nil {
		return err
	}
	known := map[string]bool{}
	for _, f := range forms {
		known[f.ID] = true
	}
	for _, kind := range []domain.MediaKind{domain.MediaPhoto, domain.MediaVideo} {
		ids, err := m.Store.MediaFormIDs(ctx, kind)
		if err != nil {
			return err
		}
		for _, formID := range ids {
			if known[formID] {
				continue
			}
			if err := m.Store.DeleteMediaByForm(ctx, kind, formID); err != nil {
				return err
			}
			m.Log.Info("orphan sweep removed media", zap.String("kind", string(kind)), zap.String("form_id", formID))
		}
	}
	return nil
}

func submittedAfter(a, b domain.FormRecord) bool {
	at, bt := "", ""
	if a.SubmittedAt != nil {
		at = *a.SubmittedAt
	}
	if b.SubmittedAt != nil {
		bt = *b.SubmittedAt
	}
	if at == bt {
		return a.ID > b.ID
	}
	return at > bt
}

func mergeState(dst, src domain.FormState) domain.FormState {
	if dst == nil {
		dst = domain.FormState{}
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				for kk, vv := range sub {
					cur[kk] = vv
				}
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
