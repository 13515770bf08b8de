package track

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"go.uber.org/zap"

	"trailreport/internal/domain"
	"trailreport/internal/store"
)

// metaRecordingKey marks an in-progress recording so a restart can tell a
// crash apart from a clean stop.
const metaRecordingKey = "recording"

var (
	ErrNotRecording     = errors.New("no recording in progress")
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// Recorder persists GPS samples as they arrive and consolidates them into a
// Track on stop. Each appended point is durable before Append returns, so a
// crash loses at most the sample in flight.
type Recorder struct {
	DB    *sql.DB
	Store store.Store
	Log   *zap.Logger
	Now   func() time.Time

	mu         sync.Mutex
	recording  bool
	last       *domain.TrackPoint
	count      int
	distanceKm float64
	startTime  string
}

func NewRecorder(db *sql.DB, log *zap.Logger) *Recorder {
	return &Recorder{
		DB:    db,
		Store: store.Store{DB: db},
		Log:   log,
		Now:   time.Now,
	}
}

// Start begins a new recording. Stale active points from an abandoned session
// are cleared first.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	if err := r.Store.ClearActivePoints(ctx); err != nil {
		return err
	}
	now := r.Now().UTC().Format(time.RFC3339)
	if err := r.Store.SetTrackMeta(ctx, metaRecordingKey, now, now); err != nil {
		return err
	}
	r.recording = true
	r.last = nil
	r.count = 0
	r.distanceKm = 0
	r.startTime = now
	return nil
}

// Append persists one sample and folds it into the running distance. Returns
// the live stats after the point lands.
func (r *Recorder) Append(ctx context.Context, p domain.TrackPoint) (domain.TrackStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return domain.TrackStats{}, ErrNotRecording
	}
	if p.Time == "" {
		p.Time = r.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := r.Store.AppendActivePoint(ctx, p); err != nil {
		return domain.TrackStats{}, err
	}
	if r.last != nil {
		r.distanceKm += segmentKm(*r.last, p)
	}
	last := p
	r.last = &last
	r.count++
	return r.statsLocked(), nil
}

// Stop consolidates the active points into a Track, clears them and removes
// the recording marker, all in one transaction.
func (r *Recorder) Stop(ctx context.Context) (domain.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return domain.Track{}, ErrNotRecording
	}
	points, err := r.Store.ListActivePoints(ctx)
	if err != nil {
		return domain.Track{}, err
	}
	if len(points) == 0 {
		if err := r.abortLocked(ctx); err != nil {
			return domain.Track{}, err
		}
		return domain.Track{}, fmt.Errorf("recording captured no points")
	}
	t := consolidate(uuid.NewString(), points)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()
	if err := r.Store.InsertTrackTx(ctx, tx, t); err != nil {
		return domain.Track{}, err
	}
	if err := r.Store.ClearActivePointsTx(ctx, tx); err != nil {
		return domain.Track{}, err
	}
	if err := r.Store.DeleteTrackMetaTx(ctx, tx, metaRecordingKey); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}
	r.recording = false
	r.last = nil
	return t, nil
}

// Discard abandons the current recording without producing a track.
func (r *Recorder) Discard(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return ErrNotRecording
	}
	return r.abortLocked(ctx)
}

func (r *Recorder) abortLocked(ctx context.Context) error {
	if err := r.Store.ClearActivePoints(ctx); err != nil {
		return err
	}
	if err := r.Store.DeleteTrackMeta(ctx, metaRecordingKey); err != nil {
		return err
	}
	r.recording = false
	r.last = nil
	r.count = 0
	r.distanceKm = 0
	return nil
}

// Resume picks up a recording interrupted by a crash. Distance is recomputed
// from the full persisted point list. Returns false when no recording marker
// is present.
func (r *Recorder) Resume(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return true, nil
	}
	startedAt, err := r.Store.GetTrackMeta(ctx, metaRecordingKey)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	points, err := r.Store.ListActivePoints(ctx)
	if err != nil {
		return false, err
	}
	r.recording = true
	r.startTime = startedAt
	r.count = len(points)
	r.distanceKm = totalKm(points)
	r.last = nil
	if n := len(points); n > 0 {
		last := points[n-1]
		r.last = &last
		r.startTime = points[0].Time
	}
	r.Log.Info("resumed interrupted recording",
		zap.Int("points", r.count), zap.Float64("distance_km", r.distanceKm))
	return true, nil
}

// Stats reports the live recording summary, or the latest consolidated track
// when idle.
func (r *Recorder) Stats(ctx context.Context) (domain.TrackStats, error) {
	r.mu.Lock()
	recording := r.recording
	live := r.statsLocked()
	r.mu.Unlock()
	if recording {
		return live, nil
	}
	t, err := r.Store.LatestTrack(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TrackStats{}, nil
	}
	if err != nil {
		return domain.TrackStats{}, err
	}
	return statsOf(t), nil
}

// HasTrack reports whether a consolidated track exists.
func (r *Recorder) HasTrack(ctx context.Context) (bool, error) {
	_, err := r.Store.LatestTrack(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Latest returns the most recent consolidated track.
func (r *Recorder) Latest(ctx context.Context) (domain.Track, error) {
	return r.Store.LatestTrack(ctx)
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) statsLocked() domain.TrackStats {
	s := domain.TrackStats{
		PointCount: r.count,
		DistanceKm: r.distanceKm,
		StartTime:  r.startTime,
		Recording:  r.recording,
	}
	if r.last != nil {
		s.Elevation = r.last.Elevation
		s.EndTime = r.last.Time
	}
	return s
}

func statsOf(t domain.Track) domain.TrackStats {
	s := domain.TrackStats{
		PointCount: len(t.Points),
		DistanceKm: t.TotalDistanceKm,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
	}
	if n := len(t.Points); n > 0 {
		s.Elevation = t.Points[n-1].Elevation
	}
	return s
}

func consolidate(id string, points []domain.TrackPoint) domain.Track {
	return domain.Track{
		ID:              id,
		StartTime:       points[0].Time,
		EndTime:         points[len(points)-1].Time,
		TotalDistanceKm: totalKm(points),
		Points:          points,
	}
}

func totalKm(points []domain.TrackPoint) float64 {
	var km float64
	for i := 1; i < len(points); i++ {
		km += segmentKm(points[i-1], points[i])
	}
	return km
}

func segmentKm(a, b domain.TrackPoint) float64 {
	return geo.DistanceHaversine(orb.Point{a.Lon, a.Lat}, orb.Point{b.Lon, b.Lat}) / 1000.0
}
