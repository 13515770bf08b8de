package uploader_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"trailreport/internal/domain"
	"trailreport/internal/uploader"
)

type fakeUpload struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeUpload) Upload(ctx context.Context, file domain.FileBlob, caption string, progress func(sent, total int64)) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.Name)
	shouldFail := f.fail[file.Name]
	f.mu.Unlock()
	if shouldFail {
		return "", errors.New("connection reset")
	}
	total := int64(len(file.Data))
	if progress != nil {
		progress(total/2, total)
		progress(total, total)
	}
	return "fid-" + file.Name, nil
}

func (f *fakeUpload) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSubmit struct {
	mu          sync.Mutex
	rejectLeft  int
	submissions []domain.Submission
}

func (f *fakeSubmit) Submit(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, sub)
	if f.rejectLeft > 0 {
		f.rejectLeft--
		return domain.SubmitResult{Success: false, Message: "region is required"}, nil
	}
	return domain.SubmitResult{Success: true, NbNodeURL: "https://cms.example/node/42"}, nil
}

func regularReport() domain.ReportPayload {
	return domain.ReportPayload{Regular: &domain.RegularReport{
		ReportTitle: "Morning groom",
		ReportDate:  "2025-02-01",
		Country:     "FR",
		Region:      "Vercors",
	}}
}

func attach(id, name, caption string, size int) uploader.Attachment {
	return uploader.Attachment{
		ID:      id,
		Caption: caption,
		File:    domain.FileBlob{Name: name, MimeType: "image/jpeg", Data: make([]byte, size)},
	}
}

func TestRunAssemblesOrderedSubmission(t *testing.T) {
	up := &fakeUpload{}
	sub := &fakeSubmit{}
	orch := uploader.New(up, sub, zap.NewNop())
	req := uploader.Request{
		Report: regularReport(),
		Photos: []uploader.Attachment{
			attach("p1", "first.jpg", "summit", 100),
			attach("p2", "second.jpg", "", 200),
		},
		Videos: []uploader.Attachment{
			attach("v1", "clip.mp4", "descent", 300),
		},
		GPX: []byte("<gpx/>"),
	}
	result, err := orch.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Success || result.NbNodeURL == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(sub.submissions) != 1 {
		t.Fatalf("submit calls: %d", len(sub.submissions))
	}
	data := sub.submissions[0].Data
	if data["reportType"] != "regular" {
		t.Fatalf("reportType: %v", data["reportType"])
	}
	photoIDs, ok := data["photoIds"].([]string)
	if !ok || len(photoIDs) != 2 || photoIDs[0] != "fid-first.jpg" || photoIDs[1] != "fid-second.jpg" {
		t.Fatalf("photoIds wrong: %v", data["photoIds"])
	}
	captions, ok := data["photoCaptions"].(map[string]string)
	if !ok || captions["fid-first.jpg"] != "summit" || len(captions) != 1 {
		t.Fatalf("photoCaptions wrong: %v", data["photoCaptions"])
	}
	videoIDs, ok := data["videoIds"].([]string)
	if !ok || len(videoIDs) != 1 || videoIDs[0] != "fid-clip.mp4" {
		t.Fatalf("videoIds wrong: %v", data["videoIds"])
	}
	if data["gpxId"] != "fid-track.gpx" {
		t.Fatalf("gpxId wrong: %v", data["gpxId"])
	}
	if data["region"] != "Vercors" {
		t.Fatalf("report fields not flattened: %v", data)
	}
}

func TestProgressNeverDecreasesAndReachesOne(t *testing.T) {
	up := &fakeUpload{}
	sub := &fakeSubmit{}
	orch := uploader.New(up, sub, zap.NewNop())
	req := uploader.Request{
		Report: regularReport(),
		Photos: []uploader.Attachment{
			attach("p1", "a.jpg", "", 1000),
			attach("p2", "b.jpg", "", 2000),
			attach("p3", "c.jpg", "", 3000),
		},
	}
	var mu sync.Mutex
	var seen []float64
	_, err := orch.Run(context.Background(), req, func(frac float64) {
		mu.Lock()
		seen = append(seen, frac)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) == 0 {
		t.Fatalf("no progress reported")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards at %d: %v", i, seen)
		}
	}
	if seen[len(seen)-1] != 1.0 {
		t.Fatalf("final progress %f, want 1.0", seen[len(seen)-1])
	}
}

func TestUploadFailureDiscardsFids(t *testing.T) {
	up := &fakeUpload{fail: map[string]bool{"bad.jpg": true}}
	sub := &fakeSubmit{}
	orch := uploader.New(up, sub, zap.NewNop())
	req := uploader.Request{
		Report: regularReport(),
		Photos: []uploader.Attachment{
			attach("p1", "ok.jpg", "", 100),
			attach("p2", "bad.jpg", "", 100),
		},
	}
	_, err := orch.Run(context.Background(), req, nil)
	var ufe *uploader.UploadFailedError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UploadFailedError, got %v", err)
	}
	if len(sub.submissions) != 0 {
		t.Fatalf("submit must not run after upload failure")
	}
	// retry with the fault cleared: everything re-uploads, nothing cached
	up.mu.Lock()
	up.fail = nil
	before := len(up.calls)
	up.mu.Unlock()
	if _, err := orch.Run(context.Background(), req, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := up.count() - before; got != 2 {
		t.Fatalf("retry should re-upload both files, uploaded %d", got)
	}
}

func TestRejectedSubmitRetryReusesFids(t *testing.T) {
	up := &fakeUpload{}
	sub := &fakeSubmit{rejectLeft: 1}
	orch := uploader.New(up, sub, zap.NewNop())
	req := uploader.Request{
		Report: regularReport(),
		Photos: []uploader.Attachment{
			attach("p1", "a.jpg", "", 100),
		},
		GPX: []byte("<gpx/>"),
	}
	_, err := orch.Run(context.Background(), req, nil)
	var sre *uploader.SubmissionRejectedError
	if !errors.As(err, &sre) {
		t.Fatalf("expected SubmissionRejectedError, got %v", err)
	}
	uploadsAfterFirst := up.count()
	result, err := orch.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !result.Success {
		t.Fatalf("retry should succeed: %+v", result)
	}
	if up.count() != uploadsAfterFirst {
		t.Fatalf("retry re-uploaded files: %d vs %d", up.count(), uploadsAfterFirst)
	}
	if len(sub.submissions) != 2 {
		t.Fatalf("expected 2 submit calls, got %d", len(sub.submissions))
	}
}

func TestRunRejectsInvalidReport(t *testing.T) {
	orch := uploader.New(&fakeUpload{}, &fakeSubmit{}, zap.NewNop())
	if _, err := orch.Run(context.Background(), uploader.Request{}, nil); err == nil {
		t.Fatalf("empty report should fail validation")
	}
	both := uploader.Request{Report: domain.ReportPayload{
		Regular: &domain.RegularReport{},
		Admin:   &domain.AdminReport{},
	}}
	if _, err := orch.Run(context.Background(), both, nil); err == nil {
		t.Fatalf("double-armed report should fail validation")
	}
}
