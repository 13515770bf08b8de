package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FormState is the free-form field snapshot of a report draft. The core does
// not validate its shape; nested maps (dropdownValues, trailConditions) merge
// key-wise on autosave.
type FormState map[string]any

type FormRecord struct {
	ID           string    `json:"id"`
	Submitted    bool      `json:"submitted"`
	SubmittedAt  *string   `json:"submitted_at,omitempty" format:"date-time"`
	FormState    FormState `json:"form_state,omitempty"`
	LastModified string    `json:"last_modified" format:"date-time"`
	LastSaved    string    `json:"last_saved,omitempty" format:"date-time"`
}

// MediaKind selects the photo or video collection.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// FileBlob is the persisted binary payload of an attachment.
type FileBlob struct {
	Name         string `json:"name"`
	MimeType     string `json:"mime_type"`
	LastModified string `json:"last_modified,omitempty" format:"date-time"`
	Data         []byte `json:"-"`
}

// GeoMeta is positional/orientation metadata read from embedded EXIF before
// any transform strips it.
type GeoMeta struct {
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	Orientation *int     `json:"orientation,omitempty"`
}

// MediaEntry is a photo or video attached to a form. Order is dense and
// zero-based among entries sharing a FormID.
type MediaEntry struct {
	ID              string   `json:"id"`
	FormID          string   `json:"form_id"`
	Caption         string   `json:"caption"`
	Order           int      `json:"order"`
	Timestamp       string   `json:"timestamp" format:"date-time"`
	TimestampSource string   `json:"timestamp_source,omitempty"`
	File            FileBlob `json:"file"`
	Geo             GeoMeta  `json:"geo,omitempty"`
}

type TrackPoint struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`
	Time      string   `json:"time" format:"date-time"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Track is a consolidated recording or import.
type Track struct {
	ID              string       `json:"id"`
	StartTime       string       `json:"start_time" format:"date-time"`
	EndTime         string       `json:"end_time" format:"date-time"`
	TotalDistanceKm float64      `json:"total_distance_km"`
	Points          []TrackPoint `json:"points"`
}

// TrackStats is the live/read-only summary surfaced during and after
// recording.
type TrackStats struct {
	PointCount int      `json:"point_count"`
	DistanceKm float64  `json:"distance_km"`
	Elevation  *float64 `json:"elevation,omitempty"`
	StartTime  string   `json:"start_time,omitempty" format:"date-time"`
	EndTime    string   `json:"end_time,omitempty" format:"date-time"`
	Recording  bool     `json:"recording"`
}

type TrailCondition struct {
	Free        string `json:"free"`
	Classic     string `json:"classic"`
	Maintenance string `json:"maintenance"`
}

// RegularReport is the field-set submitted by ordinary users.
type RegularReport struct {
	ReportTitle     string   `json:"reportTitle"`
	ReportDate      string   `json:"reportDate"`
	Country         string   `json:"country"`
	Region          string   `json:"region"`
	SnowDepth250    string   `json:"snowDepth250,omitempty"`
	SnowDepth500    string   `json:"snowDepth500,omitempty"`
	SnowDepth750    string   `json:"snowDepth750,omitempty"`
	SnowDepth1000   string   `json:"snowDepth1000,omitempty"`
	ClassicStyle    string   `json:"classicstyle,omitempty"`
	FreeStyle       string   `json:"freestyle,omitempty"`
	SnowAge         string   `json:"snowage,omitempty"`
	Wetness         string   `json:"wetness,omitempty"`
	SnowType        string   `json:"snowType,omitempty"`
	Note            string   `json:"note,omitempty"`
	PrivateReport   bool     `json:"privateReport"`
	LaborTime       *float64 `json:"laborTime,omitempty"`
	RewardRequested *bool    `json:"rewardRequested,omitempty"`
}

// AdminReport is the field-set submitted by ski-center operators.
type AdminReport struct {
	SnowDepthTotal  string                    `json:"snowDepthTotal"`
	SnowDepthNew    string                    `json:"snowDepthNew,omitempty"`
	TrailConditions map[string]TrailCondition `json:"trailConditions,omitempty"`
	SkiCenterID     string                    `json:"ski_center_id"`
	PostToFB        *bool                     `json:"post_to_fb,omitempty"`
	Note            string                    `json:"note,omitempty"`
	SnowType        string                    `json:"snowType,omitempty"`
	LaborTime       *float64                  `json:"laborTime,omitempty"`
	RewardRequested *bool                     `json:"rewardRequested,omitempty"`
}

// ReportPayload is a tagged variant: exactly one of Regular or Admin is set.
type ReportPayload struct {
	Regular *RegularReport
	Admin   *AdminReport
}

const (
	ReportTypeRegular = "regular"
	ReportTypeAdmin   = "admin"
)

func (p ReportPayload) Validate() error {
	switch {
	case p.Regular == nil && p.Admin == nil:
		return errors.New("report payload is empty")
	case p.Regular != nil && p.Admin != nil:
		return errors.New("report payload has both regular and admin field-sets")
	}
	return nil
}

func (p ReportPayload) ReportType() string {
	if p.Admin != nil {
		return ReportTypeAdmin
	}
	return ReportTypeRegular
}

// Fields flattens the populated arm into the submission data object,
// including the reportType discriminator.
func (p ReportPayload) Fields() (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var src any = p.Regular
	if p.Admin != nil {
		src = p.Admin
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("marshal report fields: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten report fields: %w", err)
	}
	fields["reportType"] = p.ReportType()
	return fields, nil
}

// Submission is the single JSON document sent to the CMS after all uploads
// succeed. Attachment id ordering matches the original attachment order.
type Submission struct {
	Data map[string]any `json:"data"`
}

// SubmitResult mirrors the CMS submit response. FBPageURLs absorbs both the
// single-string and array forms the CMS emits.
type SubmitResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message,omitempty"`
	NbNodeURL     string   `json:"nb_node_url,omitempty"`
	FBPageURLs    []string `json:"fb_page_url,omitempty"`
	FBTimelineURL string   `json:"fb_timeline_url,omitempty"`
}

func (r *SubmitResult) UnmarshalJSON(data []byte) error {
	type alias struct {
		Success       bool            `json:"success"`
		Message       string          `json:"message"`
		NbNodeURL     string          `json:"nb_node_url"`
		FBPageURL     json.RawMessage `json:"fb_page_url"`
		FBTimelineURL string          `json:"fb_timeline_url"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.Success = a.Success
	r.Message = a.Message
	r.NbNodeURL = a.NbNodeURL
	r.FBTimelineURL = a.FBTimelineURL
	r.FBPageURLs = nil
	if len(a.FBPageURL) > 0 {
		var many []string
		if err := json.Unmarshal(a.FBPageURL, &many); err == nil {
			r.FBPageURLs = many
		} else {
			var one string
			if err := json.Unmarshal(a.FBPageURL, &one); err == nil && one != "" {
				r.FBPageURLs = []string{one}
			}
		}
	}
	return nil
}
