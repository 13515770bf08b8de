package media

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"trailreport/internal/domain"
)

// Timestamp provenance markers, best source first. Every media entry records
// which source produced its timestamp so downstream ordering can be audited.
const (
	SourceGPS     = "gps"
	SourceCapture = "capture"
	SourceFile    = "file"
	SourceClock   = "clock"
)

// Meta is what intake extracts from a blob before any transform strips the
// embedded EXIF segment.
type Meta struct {
	Timestamp string
	Source    string
	Geo       domain.GeoMeta
}

// ExtractMeta reads EXIF from the original bytes. Timestamp falls back
// through GPS time, capture time, file modification time, then the wall
// clock, tagging the entry with whichever source won.
func ExtractMeta(blob domain.FileBlob, now time.Time) Meta {
	meta := Meta{
		Timestamp: now.UTC().Format(time.RFC3339),
		Source:    SourceClock,
	}
	if blob.LastModified != "" {
		if _, err := time.Parse(time.RFC3339, blob.LastModified); err == nil {
			meta.Timestamp = blob.LastModified
			meta.Source = SourceFile
		}
	}
	x, err := exif.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		return meta
	}
	if lat, lon, err := x.LatLong(); err == nil {
		meta.Geo.Lat = &lat
		meta.Geo.Lon = &lon
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Geo.Orientation = &v
		}
	}
	if t, err := x.DateTime(); err == nil {
		meta.Timestamp = t.UTC().Format(time.RFC3339)
		meta.Source = SourceCapture
	}
	if t, ok := gpsTime(x); ok {
		meta.Timestamp = t.UTC().Format(time.RFC3339)
		meta.Source = SourceGPS
	}
	return meta
}

// gpsTime combines GPSDateStamp and GPSTimeStamp, which unlike DateTimeOriginal
// are already UTC.
func gpsTime(x *exif.Exif) (time.Time, bool) {
	dateTag, err := x.Get(exif.GPSDateStamp)
	if err != nil {
		return time.Time{}, false
	}
	dateStr, err := dateTag.StringVal()
	if err != nil {
		return time.Time{}, false
	}
	timeTag, err := x.Get(exif.GPSTimeStamp)
	if err != nil {
		return time.Time{}, false
	}
	var hms [3]float64
	for i := 0; i < 3; i++ {
		num, den, err := timeTag.Rat2(i)
		if err != nil || den == 0 {
			return time.Time{}, false
		}
		hms[i] = float64(num) / float64(den)
	}
	day, err := time.Parse("2006:01:02", dateStr)
	if err != nil {
		return time.Time{}, false
	}
	t := day.Add(time.Duration(hms[0])*time.Hour +
		time.Duration(hms[1])*time.Minute +
		time.Duration(hms[2]*float64(time.Second)))
	return t.UTC(), true
}
