package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trailreport/internal/domain"
)

// Store is the structured local store: named collections over the workspace
// SQLite database. It provides durable CRUD and indexed lookups; callers
// needing read-modify-write must sequence get then put themselves and accept
// last-writer-wins.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StorageError wraps a failed store operation with its collection context.
type StorageError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

var collections = map[string]bool{
	"forms":          true,
	"photos":         true,
	"videos":         true,
	"active_points":  true,
	"tracks":         true,
	"track_metadata": true,
	"events":         true,
}

// Clear removes every record in one collection. Used for full teardown.
func (s Store) Clear(ctx context.Context, collection string) error {
	if !collections[collection] {
		return &StorageError{Op: "clear", Collection: collection, Err: errors.New("unknown collection")}
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM `+collection)
	return storageErr("clear", collection, err)
}

// --- forms ---

func (s Store) InsertForm(ctx context.Context, f domain.FormRecord) error {
	return s.insertForm(ctx, s.DB.ExecContext, f)
}

func (s Store) InsertFormTx(ctx context.Context, tx *sql.Tx, f domain.FormRecord) error {
	return s.insertForm(ctx, tx.ExecContext, f)
}

func (s Store) insertForm(ctx context.Context, exec execFunc, f domain.FormRecord) error {
	stateJSON, err := marshalState(f.FormState)
	if err != nil {
		return storageErr("put", "forms", err)
	}
	_, err = exec(ctx, `INSERT INTO forms(id,submitted,submitted_at,form_state_json,last_modified,last_saved) VALUES (?,?,?,?,?,?)`,
		f.ID, boolInt(f.Submitted), nullableStringPtr(f.SubmittedAt), stateJSON, f.LastModified, nullable(f.LastSaved))
	return storageErr("put", "forms", err)
}

func (s Store) GetForm(ctx context.Context, id string) (domain.FormRecord, error) {
	return scanForm(s.DB.QueryRowContext(ctx, `SELECT id,submitted,submitted_at,form_state_json,last_modified,last_saved FROM forms WHERE id=?`, id))
}

// ActiveForm returns the single unsubmitted form, or ErrNotFound.
func (s Store) ActiveForm(ctx context.Context) (domain.FormRecord, error) {
	return scanForm(s.DB.QueryRowContext(ctx, `SELECT id,submitted,submitted_at,form_state_json,last_modified,last_saved FROM forms WHERE submitted=0 ORDER BY last_modified DESC LIMIT 1`))
}

func (s Store) ListForms(ctx context.Context) ([]domain.FormRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,submitted,submitted_at,form_state_json,last_modified,last_saved FROM forms ORDER BY id DESC`)
	if err != nil {
		return nil, storageErr("getAll", "forms", err)
	}
	defer rows.Close()
	var res []domain.FormRecord
	for rows.Next() {
		f, err := scanFormRows(rows)
		if err != nil {
			return nil, storageErr("getAll", "forms", err)
		}
		res = append(res, f)
	}
	return res, storageErr("getAll", "forms", rows.Err())
}

func (s Store) UpdateFormState(ctx context.Context, id string, state domain.FormState, lastModified, lastSaved string) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return storageErr("put", "forms", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE forms SET form_state_json=?, last_modified=?, last_saved=? WHERE id=?`,
		stateJSON, lastModified, lastSaved, id)
	if err != nil {
		return storageErr("put", "forms", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) MarkFormSubmittedTx(ctx context.Context, tx *sql.Tx, id, submittedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE forms SET submitted=1, submitted_at=?, last_modified=? WHERE id=?`, submittedAt, submittedAt, id)
	if err != nil {
		return storageErr("put", "forms", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) DeleteFormTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE id=?`, id)
	return storageErr("delete", "forms", err)
}

// --- photos / videos ---

func mediaTable(kind domain.MediaKind) string {
	if kind == domain.MediaVideo {
		return "videos"
	}
	return "photos"
}

func (s Store) InsertMedia(ctx context.Context, kind domain.MediaKind, m domain.MediaEntry) error {
	table := mediaTable(kind)
	var err error
	if kind == domain.MediaPhoto {
		_, err = s.DB.ExecContext(ctx, `INSERT INTO photos(id,form_id,caption,position,ts,ts_source,file_name,mime_type,file_modified,data,lat,lon,orientation) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.FormID, m.Caption, m.Order, m.Timestamp, m.TimestampSource, m.File.Name, m.File.MimeType, nullable(m.File.LastModified), m.File.Data,
			nullableFloatPtr(m.Geo.Lat), nullableFloatPtr(m.Geo.Lon), nullableIntPtr(m.Geo.Orientation))
	} else {
		_, err = s.DB.ExecContext(ctx, `INSERT INTO videos(id,form_id,caption,position,ts,ts_source,file_name,mime_type,file_modified,data) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			m.ID, m.FormID, m.Caption, m.Order, m.Timestamp, m.TimestampSource, m.File.Name, m.File.MimeType, nullable(m.File.LastModified), m.File.Data)
	}
	return storageErr("put", table, err)
}

func (s Store) GetMedia(ctx context.Context, kind domain.MediaKind, id string) (domain.MediaEntry, error) {
	table := mediaTable(kind)
	rows, err := s.DB.QueryContext(ctx, mediaSelect(kind)+` WHERE id=?`, id)
	if err != nil {
		return domain.MediaEntry{}, storageErr("get", table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.MediaEntry{}, ErrNotFound
	}
	m, err := scanMedia(rows, kind)
	return m, storageErr("get", table, err)
}

// ListMediaByForm returns a form's entries ordered by persisted position,
// oldest-first within equal positions.
func (s Store) ListMediaByForm(ctx context.Context, kind domain.MediaKind, formID string) ([]domain.MediaEntry, error) {
	table := mediaTable(kind)
	rows, err := s.DB.QueryContext(ctx, mediaSelect(kind)+` WHERE form_id=? ORDER BY position ASC, ts ASC, id ASC`, formID)
	if err != nil {
		return nil, storageErr("getAllByIndex", table, err)
	}
	defer rows.Close()
	var res []domain.MediaEntry
	for rows.Next() {
		m, err := scanMedia(rows, kind)
		if err != nil {
			return nil, storageErr("getAllByIndex", table, err)
		}
		res = append(res, m)
	}
	return res, storageErr("getAllByIndex", table, rows.Err())
}

func (s Store) UpdateMediaCaption(ctx context.Context, kind domain.MediaKind, id, caption string) error {
	table := mediaTable(kind)
	res, err := s.DB.ExecContext(ctx, `UPDATE `+table+` SET caption=? WHERE id=?`, caption, id)
	if err != nil {
		return storageErr("put", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) UpdateMediaOrder(ctx context.Context, kind domain.MediaKind, id string, position int) error {
	table := mediaTable(kind)
	_, err := s.DB.ExecContext(ctx, `UPDATE `+table+` SET position=? WHERE id=?`, position, id)
	return storageErr("put", table, err)
}

// ReplaceMediaFile swaps the stored payload, e.g. after a rotation re-encode.
func (s Store) ReplaceMediaFile(ctx context.Context, kind domain.MediaKind, id string, file domain.FileBlob) error {
	table := mediaTable(kind)
	res, err := s.DB.ExecContext(ctx, `UPDATE `+table+` SET file_name=?, mime_type=?, data=? WHERE id=?`, file.Name, file.MimeType, file.Data, id)
	if err != nil {
		return storageErr("put", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) DeleteMedia(ctx context.Context, kind domain.MediaKind, id string) error {
	table := mediaTable(kind)
	res, err := s.DB.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, id)
	if err != nil {
		return storageErr("delete", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) DeleteMediaByFormTx(ctx context.Context, tx *sql.Tx, kind domain.MediaKind, formID string) error {
	table := mediaTable(kind)
	_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE form_id=?`, formID)
	return storageErr("delete", table, err)
}

// MediaFormIDs returns the distinct form ids referenced by a media
// collection; used by the orphan sweep.
func (s Store) MediaFormIDs(ctx context.Context, kind domain.MediaKind) ([]string, error) {
	table := mediaTable(kind)
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT form_id FROM `+table)
	if err != nil {
		return nil, storageErr("getAll", table, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("getAll", table, err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("getAll", table, rows.Err())
}

func (s Store) DeleteMediaByForm(ctx context.Context, kind domain.MediaKind, formID string) error {
	table := mediaTable(kind)
	_, err := s.DB.ExecContext(ctx, `DELETE FROM `+table+` WHERE form_id=?`, formID)
	return storageErr("delete", table, err)
}

// --- active points ---

// AppendActivePoint stores one sample. Rows key on rowid, not timestamp, so
// two samples landing within the same clock reading both survive.
func (s Store) AppendActivePoint(ctx context.Context, p domain.TrackPoint) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO active_points(ts,lat,lon,elevation,accuracy) VALUES (?,?,?,?,?)`,
		p.Time, p.Lat, p.Lon, nullableFloatPtr(p.Elevation), nullableFloatPtr(p.Accuracy))
	return storageErr("put", "active_points", err)
}

func (s Store) ListActivePoints(ctx context.Context) ([]domain.TrackPoint, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT ts,lat,lon,elevation,accuracy FROM active_points ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("getAll", "active_points", err)
	}
	defer rows.Close()
	var res []domain.TrackPoint
	for rows.Next() {
		var p domain.TrackPoint
		var elevation, accuracy sql.NullFloat64
		if err := rows.Scan(&p.Time, &p.Lat, &p.Lon, &elevation, &accuracy); err != nil {
			return nil, storageErr("getAll", "active_points", err)
		}
		if elevation.Valid {
			p.Elevation = &elevation.Float64
		}
		if accuracy.Valid {
			p.Accuracy = &accuracy.Float64
		}
		res = append(res, p)
	}
	return res, storageErr("getAll", "active_points", rows.Err())
}

func (s Store) ClearActivePoints(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM active_points`)
	return storageErr("clear", "active_points", err)
}

func (s Store) ClearActivePointsTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM active_points`)
	return storageErr("clear", "active_points", err)
}

// --- tracks ---

func (s Store) InsertTrack(ctx context.Context, t domain.Track) error {
	return s.insertTrack(ctx, s.DB.ExecContext, t)
}

func (s Store) InsertTrackTx(ctx context.Context, tx *sql.Tx, t domain.Track) error {
	return s.insertTrack(ctx, tx.ExecContext, t)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (s Store) insertTrack(ctx context.Context, exec execFunc, t domain.Track) error {
	points, err := json.Marshal(t.Points)
	if err != nil {
		return storageErr("put", "tracks", err)
	}
	_, err = exec(ctx, `INSERT INTO tracks(id,start_time,end_time,total_distance_km,points_json) VALUES (?,?,?,?,?)`,
		t.ID, t.StartTime, t.EndTime, t.TotalDistanceKm, string(points))
	return storageErr("put", "tracks", err)
}

// LatestTrack surfaces the most recent consolidated track by start time.
func (s Store) LatestTrack(ctx context.Context) (domain.Track, error) {
	return scanTrack(s.DB.QueryRowContext(ctx, `SELECT id,start_time,end_time,total_distance_km,points_json FROM tracks ORDER BY start_time DESC, id DESC LIMIT 1`))
}

func (s Store) ListTracks(ctx context.Context) ([]domain.Track, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,start_time,end_time,total_distance_km,points_json FROM tracks ORDER BY start_time DESC, id DESC`)
	if err != nil {
		return nil, storageErr("getAll", "tracks", err)
	}
	defer rows.Close()
	var res []domain.Track
	for rows.Next() {
		var t domain.Track
		var points string
		if err := rows.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.TotalDistanceKm, &points); err != nil {
			return nil, storageErr("getAll", "tracks", err)
		}
		if err := json.Unmarshal([]byte(points), &t.Points); err != nil {
			return nil, storageErr("getAll", "tracks", err)
		}
		res = append(res, t)
	}
	return res, storageErr("getAll", "tracks", rows.Err())
}

func (s Store) DeleteTrack(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tracks WHERE id=?`, id)
	if err != nil {
		return storageErr("delete", "tracks", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- track metadata ---

func (s Store) SetTrackMeta(ctx context.Context, key, value, updatedAt string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO track_metadata(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, updatedAt)
	return storageErr("put", "track_metadata", err)
}

func (s Store) GetTrackMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM track_metadata WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, storageErr("get", "track_metadata", err)
}

func (s Store) DeleteTrackMeta(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM track_metadata WHERE key=?`, key)
	return storageErr("delete", "track_metadata", err)
}

func (s Store) DeleteTrackMetaTx(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM track_metadata WHERE key=?`, key)
	return storageErr("delete", "track_metadata", err)
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row *sql.Row) (domain.FormRecord, error) {
	f, err := scanFormScanner(row)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, storageErr("get", "forms", err)
}

func scanFormRows(rows *sql.Rows) (domain.FormRecord, error) {
	return scanFormScanner(rows)
}

func scanFormScanner(sc rowScanner) (domain.FormRecord, error) {
	var f domain.FormRecord
	var submitted int
	var submittedAt, stateJSON, lastSaved sql.NullString
	if err := sc.Scan(&f.ID, &submitted, &submittedAt, &stateJSON, &f.LastModified, &lastSaved); err != nil {
		return f, err
	}
	f.Submitted = submitted != 0
	if submittedAt.Valid {
		f.SubmittedAt = &submittedAt.String
	}
	if lastSaved.Valid {
		f.LastSaved = lastSaved.String
	}
	if stateJSON.Valid && stateJSON.String != "" {
		if err := json.Unmarshal([]byte(stateJSON.String), &f.FormState); err != nil {
			return f, fmt.Errorf("decode form state: %w", err)
		}
	}
	return f, nil
}

func mediaSelect(kind domain.MediaKind) string {
	if kind == domain.MediaVideo {
		return `SELECT id,form_id,caption,position,ts,ts_source,file_name,mime_type,file_modified,data FROM videos`
	}
	return `SELECT id,form_id,caption,position,ts,ts_source,file_name,mime_type,file_modified,data,lat,lon,orientation FROM photos`
}

func scanMedia(sc rowScanner, kind domain.MediaKind) (domain.MediaEntry, error) {
	var m domain.MediaEntry
	var fileModified sql.NullString
	if kind == domain.MediaVideo {
		if err := sc.Scan(&m.ID, &m.FormID, &m.Caption, &m.Order, &m.Timestamp, &m.TimestampSource,
			&m.File.Name, &m.File.MimeType, &fileModified, &m.File.Data); err != nil {
			return m, err
		}
	} else {
		var lat, lon sql.NullFloat64
		var orientation sql.NullInt64
		if err := sc.Scan(&m.ID, &m.FormID, &m.Caption, &m.Order, &m.Timestamp, &m.TimestampSource,
			&m.File.Name, &m.File.MimeType, &fileModified, &m.File.Data, &lat, &lon, &orientation); err != nil {
			return m, err
		}
		if lat.Valid {
			m.Geo.Lat = &lat.Float64
		}
		if lon.Valid {
			m.Geo.Lon = &lon.Float64
		}
		if orientation.Valid {
			o := int(orientation.Int64)
			m.Geo.Orientation = &o
		}
	}
	if fileModified.Valid {
		m.File.LastModified = fileModified.String
	}
	return m, nil
}

func scanTrack(row *sql.Row) (domain.Track, error) {
	var t domain.Track
	var points string
	err := row.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.TotalDistanceKm, &points)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, storageErr("get", "tracks", err)
	}
	if err := json.Unmarshal([]byte(points), &t.Points); err != nil {
		return t, storageErr("get", "tracks", err)
	}
	return t, nil
}

func marshalState(state domain.FormState) (any, error) {
	if state == nil {
		return nil, nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode form state: %w", err)
	}
	return string(b), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
