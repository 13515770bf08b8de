package media_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"testing"
	"time"

	"trailreport/internal/domain"
	"trailreport/internal/media"
)

const (
	tagOrientation      = 0x0112
	tagExifIFD          = 0x8769
	tagGPSIFD           = 0x8825
	tagDateTimeOriginal = 0x9003
	tagGPSLatitudeRef   = 0x0001
	tagGPSLatitude      = 0x0002
	tagGPSLongitudeRef  = 0x0003
	tagGPSLongitude     = 0x0004
	tagGPSTimeStamp     = 0x0007
	tagGPSDateStamp     = 0x001d
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: 2, count: uint32(len(b)), data: b}
}

func shortEntry(tag uint16, v uint16) ifdEntry {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: 3, count: 1, data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: 4, count: 1, data: b}
}

func rationalEntry(tag uint16, vals [][2]uint32) ifdEntry {
	b := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		b = binary.BigEndian.AppendUint32(b, v[0])
		b = binary.BigEndian.AppendUint32(b, v[1])
	}
	return ifdEntry{tag: tag, typ: 5, count: uint32(len(vals)), data: b}
}

// buildTIFF serializes a big-endian TIFF body with IFD0, the Exif sub-IFD and
// an optional GPS sub-IFD. Values wider than four bytes go to a data area
// after the IFDs.
func buildTIFF(ifd0, exifIFD, gpsIFD []ifdEntry) []byte {
	ifdSize := func(n int) uint32 { return uint32(2 + 12*n + 4) }
	n0 := len(ifd0) + 1
	if gpsIFD != nil {
		n0++
	}
	off0 := uint32(8)
	offExif := off0 + ifdSize(n0)
	offGPS := offExif + ifdSize(len(exifIFD))
	dataOff := offGPS
	if gpsIFD != nil {
		dataOff += ifdSize(len(gpsIFD))
	}

	ifd0 = append(ifd0, longEntry(tagExifIFD, offExif))
	if gpsIFD != nil {
		ifd0 = append(ifd0, longEntry(tagGPSIFD, offGPS))
	}

	var ifds, data bytes.Buffer
	writeIFD := func(entries []ifdEntry) {
		sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
		binary.Write(&ifds, binary.BigEndian, uint16(len(entries)))
		for _, e := range entries {
			binary.Write(&ifds, binary.BigEndian, e.tag)
			binary.Write(&ifds, binary.BigEndian, e.typ)
			binary.Write(&ifds, binary.BigEndian, e.count)
			if len(e.data) <= 4 {
				var inline [4]byte
				copy(inline[:], e.data)
				ifds.Write(inline[:])
				continue
			}
			binary.Write(&ifds, binary.BigEndian, dataOff+uint32(data.Len()))
			data.Write(e.data)
			if data.Len()%2 == 1 {
				data.WriteByte(0)
			}
		}
		binary.Write(&ifds, binary.BigEndian, uint32(0))
	}
	writeIFD(ifd0)
	writeIFD(exifIFD)
	if gpsIFD != nil {
		writeIFD(gpsIFD)
	}

	var out bytes.Buffer
	out.WriteString("MM")
	binary.Write(&out, binary.BigEndian, uint16(0x2a))
	binary.Write(&out, binary.BigEndian, off0)
	out.Write(ifds.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

// withEXIF splices a TIFF body as an APP1 segment right after the JPEG SOI
// marker.
func withEXIF(t *testing.T, jpegData, tiff []byte) []byte {
	t.Helper()
	if len(jpegData) < 2 || jpegData[0] != 0xff || jpegData[1] != 0xd8 {
		t.Fatalf("fixture is not a jpeg")
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	app1 := []byte{0xff, 0xe1}
	app1 = binary.BigEndian.AppendUint16(app1, uint16(len(payload)+2))
	app1 = append(app1, payload...)
	out := make([]byte, 0, len(jpegData)+len(app1))
	out = append(out, jpegData[:2]...)
	out = append(out, app1...)
	out = append(out, jpegData[2:]...)
	return out
}

// captureJPEG embeds DateTimeOriginal (exif layout "2006:01:02 15:04:05").
func captureJPEG(t *testing.T, taken string) []byte {
	t.Helper()
	tiff := buildTIFF(
		[]ifdEntry{shortEntry(tagOrientation, 1)},
		[]ifdEntry{asciiEntry(tagDateTimeOriginal, taken)},
		nil,
	)
	return withEXIF(t, makeJPEG(t, 10, 10), tiff)
}

// gpsJPEG embeds 45.2N 6.5E, a GPS timestamp of 2025-02-01 09:15:00 UTC and a
// later DateTimeOriginal, so GPS time must win the provenance hierarchy.
func gpsJPEG(t *testing.T) []byte {
	t.Helper()
	gps := []ifdEntry{
		asciiEntry(tagGPSLatitudeRef, "N"),
		rationalEntry(tagGPSLatitude, [][2]uint32{{45, 1}, {12, 1}, {0, 1}}),
		asciiEntry(tagGPSLongitudeRef, "E"),
		rationalEntry(tagGPSLongitude, [][2]uint32{{6, 1}, {30, 1}, {0, 1}}),
		rationalEntry(tagGPSTimeStamp, [][2]uint32{{9, 1}, {15, 1}, {0, 1}}),
		asciiEntry(tagGPSDateStamp, "2025:02:01"),
	}
	tiff := buildTIFF(
		[]ifdEntry{shortEntry(tagOrientation, 1)},
		[]ifdEntry{asciiEntry(tagDateTimeOriginal, "2025:02:01 10:30:00")},
		gps,
	)
	return withEXIF(t, makeJPEG(t, 10, 10), tiff)
}

func TestExtractMetaUsesCaptureTime(t *testing.T) {
	b := blob("shot.jpg", "2025-02-01T07:00:00Z", captureJPEG(t, "2025:02:01 10:30:00"))
	meta := media.ExtractMeta(b, time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	if meta.Source != media.SourceCapture {
		t.Fatalf("expected capture provenance over file time, got %s", meta.Source)
	}
	if meta.Geo.Orientation == nil || *meta.Geo.Orientation != 1 {
		t.Fatalf("orientation not extracted: %+v", meta.Geo)
	}
}

func TestExtractMetaPrefersGPSTime(t *testing.T) {
	b := blob("geo.jpg", "", gpsJPEG(t))
	meta := media.ExtractMeta(b, time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	if meta.Source != media.SourceGPS {
		t.Fatalf("expected gps provenance, got %s", meta.Source)
	}
	if meta.Timestamp != "2025-02-01T09:15:00Z" {
		t.Fatalf("gps timestamp wrong: %s", meta.Timestamp)
	}
	if meta.Geo.Lat == nil || math.Abs(*meta.Geo.Lat-45.2) > 1e-6 {
		t.Fatalf("latitude wrong: %v", meta.Geo.Lat)
	}
	if meta.Geo.Lon == nil || math.Abs(*meta.Geo.Lon-6.5) > 1e-6 {
		t.Fatalf("longitude wrong: %v", meta.Geo.Lon)
	}
}

func TestAddOrdersByEmbeddedCaptureTime(t *testing.T) {
	pm, _, ctx := newPhotoManager(t)
	added, errs := pm.Add(ctx, []domain.FileBlob{
		blob("late.jpg", "", captureJPEG(t, "2025:02:01 11:00:00")),
		blob("early.jpg", "", captureJPEG(t, "2025:02:01 08:05:00")),
	})
	if len(errs) != 0 || len(added) != 2 {
		t.Fatalf("add: %v %v", added, errs)
	}
	photos := pm.Photos()
	if photos[0].File.Name != "early.jpg" || photos[1].File.Name != "late.jpg" {
		t.Fatalf("embedded times ignored: %s, %s", photos[0].File.Name, photos[1].File.Name)
	}
	for _, p := range photos {
		if p.TimestampSource != media.SourceCapture {
			t.Fatalf("expected capture provenance, got %s", p.TimestampSource)
		}
	}
}
