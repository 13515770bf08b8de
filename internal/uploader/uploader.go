package uploader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trailreport/internal/domain"
)

// UploadTransport pushes one file to the CMS and returns its fid.
type UploadTransport interface {
	Upload(ctx context.Context, file domain.FileBlob, caption string, progress func(sent, total int64)) (string, error)
}

// SubmitTransport posts the consolidated report document.
type SubmitTransport interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error)
}

// Attachment is one file queued for upload, in display order.
type Attachment struct {
	ID      string
	File    domain.FileBlob
	Caption string
}

// Request is everything one submission needs.
type Request struct {
	Report domain.ReportPayload
	Photos []Attachment
	Videos []Attachment
	GPX    []byte
}

// UploadFailedError aborts the submission during the upload phase. Cached
// fids are discarded; a retry re-uploads everything.
type UploadFailedError struct {
	Name string
	Err  error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Name, e.Err)
}

func (e *UploadFailedError) Unwrap() error { return e.Err }

// SubmissionRejectedError means every upload succeeded but the CMS refused
// the document. Cached fids survive, so a retry only repeats the submit.
type SubmissionRejectedError struct {
	Message string
	Err     error
}

func (e *SubmissionRejectedError) Error() string {
	if e.Message != "" {
		return "submission rejected: " + e.Message
	}
	return fmt.Sprintf("submission rejected: %v", e.Err)
}

func (e *SubmissionRejectedError) Unwrap() error { return e.Err }

// gpxAttachmentID keys the track document in the fid cache alongside media
// attachments.
const gpxAttachmentID = "gpx-track"

// Orchestrator drives the two-phase submission: concurrent uploads first,
// then a single consolidated submit. Each file contributes an equal share of
// the reported progress, scaled by its own byte-level completion, and the
// aggregate never decreases.
type Orchestrator struct {
	Upload  UploadTransport
	Submit  SubmitTransport
	Log     *zap.Logger
	Workers int

	mu       sync.Mutex
	fids     map[string]string
	done     map[string]float64
	reported float64
}

func New(up UploadTransport, sub SubmitTransport, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Upload:  up,
		Submit:  sub,
		Log:     log,
		Workers: 3,
		fids:    map[string]string{},
	}
}

type queued struct {
	id      string
	file    domain.FileBlob
	caption string
}

// Run performs the full submission. The first upload failure cancels the
// remaining uploads and discards all cached fids. A rejected submit keeps
// them so the next Run skips straight to the submit phase.
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress func(float64)) (domain.SubmitResult, error) {
	if err := req.Report.Validate(); err != nil {
		return domain.SubmitResult{}, err
	}
	var queue []queued
	for _, a := range req.Photos {
		queue = append(queue, queued{id: a.ID, file: a.File, caption: a.Caption})
	}
	for _, a := range req.Videos {
		queue = append(queue, queued{id: a.ID, file: a.File, caption: a.Caption})
	}
	if len(req.GPX) > 0 {
		queue = append(queue, queued{id: gpxAttachmentID, file: domain.FileBlob{
			Name:     "track.gpx",
			MimeType: "application/gpx+xml",
			Data:     req.GPX,
		}})
	}

	if err := o.uploadAll(ctx, queue, onProgress); err != nil {
		o.mu.Lock()
		o.fids = map[string]string{}
		o.mu.Unlock()
		return domain.SubmitResult{}, err
	}

	sub, err := o.assemble(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	result, err := o.Submit.Submit(ctx, sub)
	if err != nil {
		return domain.SubmitResult{}, &SubmissionRejectedError{Err: err}
	}
	if !result.Success {
		return result, &SubmissionRejectedError{Message: result.Message}
	}
	o.mu.Lock()
	o.fids = map[string]string{}
	o.mu.Unlock()
	return result, nil
}

func (o *Orchestrator) uploadAll(ctx context.Context, queue []queued, onProgress func(float64)) error {
	totalFiles := len(queue)
	if totalFiles == 0 {
		return nil
	}
	o.mu.Lock()
	o.done = map[string]float64{}
	o.reported = 0
	for _, q := range queue {
		if _, ok := o.fids[q.id]; ok {
			o.done[q.id] = 1
		}
	}
	o.mu.Unlock()

	workers := o.Workers
	if workers <= 0 {
		workers = 3
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, q := range queue {
		q := q
		o.mu.Lock()
		_, cached := o.fids[q.id]
		o.mu.Unlock()
		if cached {
			o.report(totalFiles, onProgress)
			continue
		}
		g.Go(func() error {
			fid, err := o.Upload.Upload(gctx, q.file, q.caption, func(sent, total int64) {
				if total <= 0 {
					return
				}
				o.mu.Lock()
				if frac := float64(sent) / float64(total); frac < 1 {
					o.done[q.id] = frac
				}
				o.mu.Unlock()
				o.report(totalFiles, onProgress)
			})
			if err != nil {
				return &UploadFailedError{Name: q.file.Name, Err: err}
			}
			o.mu.Lock()
			o.fids[q.id] = fid
			o.done[q.id] = 1
			o.mu.Unlock()
			o.report(totalFiles, onProgress)
			return nil
		})
	}
	return g.Wait()
}

// report emits the aggregate fraction, each file weighted 1/totalFiles.
// A file only counts as fully done once its transport call resolves, and the
// value is clamped so a slow callback interleaving can never observe it going
// backwards.
func (o *Orchestrator) report(totalFiles int, onProgress func(float64)) {
	if onProgress == nil {
		return
	}
	o.mu.Lock()
	var sum float64
	for _, f := range o.done {
		sum += f
	}
	frac := sum / float64(totalFiles)
	if frac > 1 {
		frac = 1
	}
	if frac < o.reported {
		frac = o.reported
	}
	o.reported = frac
	o.mu.Unlock()
	onProgress(frac)
}

// assemble builds the single submission document. Attachment id arrays keep
// the caller's display order; caption maps are keyed by fid.
func (o *Orchestrator) assemble(req Request) (domain.Submission, error) {
	fields, err := req.Report.Fields()
	if err != nil {
		return domain.Submission{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	photoIDs := make([]string, 0, len(req.Photos))
	photoCaptions := map[string]string{}
	for _, a := range req.Photos {
		fid, ok := o.fids[a.ID]
		if !ok {
			return domain.Submission{}, fmt.Errorf("no fid for photo %s", a.ID)
		}
		photoIDs = append(photoIDs, fid)
		if a.Caption != "" {
			photoCaptions[fid] = a.Caption
		}
	}
	videoIDs := make([]string, 0, len(req.Videos))
	videoCaptions := map[string]string{}
	for _, a := range req.Videos {
		fid, ok := o.fids[a.ID]
		if !ok {
			return domain.Submission{}, fmt.Errorf("no fid for video %s", a.ID)
		}
		videoIDs = append(videoIDs, fid)
		if a.Caption != "" {
			videoCaptions[fid] = a.Caption
		}
	}

	fields["photoIds"] = photoIDs
	if len(photoCaptions) > 0 {
		fields["photoCaptions"] = photoCaptions
	}
	fields["videoIds"] = videoIDs
	if len(videoCaptions) > 0 {
		fields["videoCaptions"] = videoCaptions
	}
	if len(req.GPX) > 0 {
		fid, ok := o.fids[gpxAttachmentID]
		if !ok {
			return domain.Submission{}, fmt.Errorf("no fid for gpx track")
		}
		fields["gpxId"] = fid
	}
	return domain.Submission{Data: fields}, nil
}
