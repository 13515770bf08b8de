package track

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tkrajina/gpxgo/gpx"

	"trailreport/internal/domain"
)

// EncodeGPX renders a track as GPX 1.1 with one track and one segment.
// Elevation and time are emitted only when the point has them.
func EncodeGPX(t domain.Track) ([]byte, error) {
	seg := gpx.GPXTrackSegment{}
	for _, p := range t.Points {
		gp := gpx.GPXPoint{}
		gp.Latitude = p.Lat
		gp.Longitude = p.Lon
		if p.Elevation != nil {
			gp.Elevation = *gpx.NewNullableFloat64(*p.Elevation)
		}
		if p.Time != "" {
			if ts, err := time.Parse(time.RFC3339, p.Time); err == nil {
				gp.Timestamp = ts
			} else if ts, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
				gp.Timestamp = ts
			}
		}
		seg.Points = append(seg.Points, gp)
	}
	doc := &gpx.GPX{
		Creator: "trailreport",
		Tracks: []gpx.GPXTrack{
			{Name: t.ID, Segments: []gpx.GPXTrackSegment{seg}},
		},
	}
	return gpx.ToXml(doc, gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// ParseGPX flattens every track and segment of a GPX document into one point
// sequence, preserving document order.
func ParseGPX(data []byte) ([]domain.TrackPoint, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	var points []domain.TrackPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, gp := range seg.Points {
				p := domain.TrackPoint{
					Lat: gp.Latitude,
					Lon: gp.Longitude,
				}
				if gp.Elevation.NotNull() {
					ele := gp.Elevation.Value()
					p.Elevation = &ele
				}
				if !gp.Timestamp.IsZero() {
					p.Time = gp.Timestamp.UTC().Format(time.RFC3339)
				}
				points = append(points, p)
			}
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("gpx document has no track points")
	}
	return points, nil
}

// ImportGPX parses a GPX document, recomputes total distance from the point
// sequence and stores it as a consolidated track.
func (r *Recorder) ImportGPX(ctx context.Context, data []byte) (domain.Track, error) {
	points, err := ParseGPX(data)
	if err != nil {
		return domain.Track{}, err
	}
	now := r.Now().UTC().Format(time.RFC3339)
	t := domain.Track{
		ID:              uuid.NewString(),
		StartTime:       firstTime(points, now),
		EndTime:         lastTime(points, now),
		TotalDistanceKm: totalKm(points),
		Points:          points,
	}
	if err := r.Store.InsertTrack(ctx, t); err != nil {
		return domain.Track{}, err
	}
	return t, nil
}

// ExportGPX renders the latest consolidated track.
func (r *Recorder) ExportGPX(ctx context.Context) ([]byte, error) {
	t, err := r.Store.LatestTrack(ctx)
	if err != nil {
		return nil, err
	}
	return EncodeGPX(t)
}

func firstTime(points []domain.TrackPoint, fallback string) string {
	for _, p := range points {
		if p.Time != "" {
			return p.Time
		}
	}
	return fallback
}

func lastTime(points []domain.TrackPoint, fallback string) string {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Time != "" {
			return points[i].Time
		}
	}
	return fallback
}
