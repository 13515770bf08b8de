package track_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"trailreport/internal/db"
	"trailreport/internal/domain"
	"trailreport/internal/migrate"
	"trailreport/internal/store"
	"trailreport/internal/track"
)

func newRecorder(t *testing.T) (*track.Recorder, context.Context) {
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
	r := track.NewRecorder(conn, zap.NewNop())
	r.Now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	return r, context.Background()
}

func pt(lat, lon float64, ts string) domain.TrackPoint {
	return domain.TrackPoint{Lat: lat, Lon: lon, Time: ts}
}

func TestAppendAccumulatesHaversineDistance(t *testing.T) {
	r, ctx := newRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Append(ctx, pt(45.0, 6.0, "2025-02-01T09:00:00Z")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// one millidegree of latitude is about 111.2 m
	stats, err := r.Append(ctx, pt(45.001, 6.0, "2025-02-01T09:00:05Z"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stats.PointCount != 2 {
		t.Fatalf("point count: %d", stats.PointCount)
	}
	if math.Abs(stats.DistanceKm-0.1112) > 0.001 {
		t.Fatalf("distance %.5f km, want about 0.1112", stats.DistanceKm)
	}
	if !stats.Recording {
		t.Fatalf("stats should report recording")
	}
}

func TestAppendWithoutStartFails(t *testing.T) {
	r, ctx := newRecorder(t)
	if _, err := r.Append(ctx, pt(45, 6, "")); !errors.Is(err, track.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestStopConsolidatesAndClearsActivePoints(t *testing.T) {
	r, ctx := newRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, p := range []domain.TrackPoint{
		pt(45.0, 6.0, "2025-02-01T09:00:00Z"),
		pt(45.001, 6.0, "2025-02-01T09:00:05Z"),
		pt(45.002, 6.0, "2025-02-01T09:00:10Z"),
	} {
		if _, err := r.Append(ctx, p); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := r.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(got.Points) != 3 {
		t.Fatalf("points: %d", len(got.Points))
	}
	if got.StartTime != "2025-02-01T09:00:00Z" || got.EndTime != "2025-02-01T09:00:10Z" {
		t.Fatalf("bounds: %s .. %s", got.StartTime, got.EndTime)
	}
	s := r.Store
	active, err := s.ListActivePoints(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active points should be cleared, got %d", len(active))
	}
	latest, err := r.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != got.ID {
		t.Fatalf("latest mismatch: %s vs %s", latest.ID, got.ID)
	}
	if _, err := r.Stop(ctx); !errors.Is(err, track.ErrNotRecording) {
		t.Fatalf("second stop should fail, got %v", err)
	}
}

func TestStopClearsRecordingMarker(t *testing.T) {
	r, ctx := newRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Append(ctx, pt(45, 6, "2025-02-01T09:00:00Z")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := r.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := r.Store.GetTrackMeta(ctx, "recording"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("marker should be gone after stop, got %v", err)
	}
	fresh := track.NewRecorder(r.DB, zap.NewNop())
	resumed, err := fresh.Resume(ctx)
	if err != nil || resumed {
		t.Fatalf("stopped recording resumed: %v %v", resumed, err)
	}
}

func TestResumeRecomputesAfterCrash(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	first := track.NewRecorder(conn, zap.NewNop())
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.Append(ctx, pt(45.0, 6.0, "2025-02-01T09:00:00Z")); err != nil {
		t.Fatalf("append: %v", err)
	}
	wantStats, err := first.Append(ctx, pt(45.002, 6.0, "2025-02-01T09:00:10Z"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// simulate a crash: a fresh recorder over the same database
	second := track.NewRecorder(conn, zap.NewNop())
	resumed, err := second.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed {
		t.Fatalf("expected resume to find the interrupted recording")
	}
	stats, err := second.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PointCount != 2 {
		t.Fatalf("recovered point count: %d", stats.PointCount)
	}
	if math.Abs(stats.DistanceKm-wantStats.DistanceKm) > 1e-9 {
		t.Fatalf("recomputed distance %.9f, want %.9f", stats.DistanceKm, wantStats.DistanceKm)
	}
	if _, err := second.Stop(ctx); err != nil {
		t.Fatalf("stop after resume: %v", err)
	}
}

func TestResumeWithoutMarker(t *testing.T) {
	r, ctx := newRecorder(t)
	resumed, err := r.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed {
		t.Fatalf("nothing to resume")
	}
}

func TestDiscardDropsRecording(t *testing.T) {
	r, ctx := newRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Append(ctx, pt(45, 6, "2025-02-01T09:00:00Z")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.Discard(ctx); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := r.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no track should exist, got %v", err)
	}
	resumed, err := r.Resume(ctx)
	if err != nil || resumed {
		t.Fatalf("discarded recording resumed: %v %v", resumed, err)
	}
}

func TestGPXRoundTrip(t *testing.T) {
	ele := 1450.5
	original := domain.Track{
		ID:        "rt-1",
		StartTime: "2025-02-01T09:00:00Z",
		EndTime:   "2025-02-01T09:10:00Z",
		Points: []domain.TrackPoint{
			{Lat: 45.0, Lon: 6.0, Time: "2025-02-01T09:00:00Z", Elevation: &ele},
			{Lat: 45.001, Lon: 6.0005, Time: "2025-02-01T09:05:00Z"},
			{Lat: 45.002, Lon: 6.001, Time: "2025-02-01T09:10:00Z"},
		},
	}
	data, err := track.EncodeGPX(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	points, err := track.ParseGPX(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(points) != len(original.Points) {
		t.Fatalf("point count: %d vs %d", len(points), len(original.Points))
	}
	for i, p := range points {
		o := original.Points[i]
		if math.Abs(p.Lat-o.Lat) > 1e-9 || math.Abs(p.Lon-o.Lon) > 1e-9 {
			t.Fatalf("point %d drifted: %v vs %v", i, p, o)
		}
		if p.Time != o.Time {
			t.Fatalf("point %d time: %s vs %s", i, p.Time, o.Time)
		}
	}
	if points[0].Elevation == nil || math.Abs(*points[0].Elevation-ele) > 1e-9 {
		t.Fatalf("elevation lost: %v", points[0].Elevation)
	}
	if points[1].Elevation != nil {
		t.Fatalf("elevation invented for point 1")
	}
}

func TestImportExportThroughRecorder(t *testing.T) {
	r, ctx := newRecorder(t)
	src := domain.Track{
		ID:        "src",
		StartTime: "2025-02-01T09:00:00Z",
		EndTime:   "2025-02-01T09:10:00Z",
		Points: []domain.TrackPoint{
			pt(45.0, 6.0, "2025-02-01T09:00:00Z"),
			pt(45.01, 6.0, "2025-02-01T09:10:00Z"),
		},
	}
	data, err := track.EncodeGPX(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	imported, err := r.ImportGPX(ctx, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(imported.Points) != 2 {
		t.Fatalf("imported points: %d", len(imported.Points))
	}
	if imported.TotalDistanceKm <= 0 {
		t.Fatalf("distance not recomputed: %f", imported.TotalDistanceKm)
	}
	exported, err := r.ExportGPX(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	again, err := track.ParseGPX(exported)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("round trip lost points: %d", len(again))
	}
}

func TestImportRejectsEmptyDocument(t *testing.T) {
	r, ctx := newRecorder(t)
	if _, err := r.ImportGPX(ctx, []byte(`<gpx version="1.1" creator="x"></gpx>`)); err == nil {
		t.Fatalf("empty gpx should fail")
	}
}
