package media

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trailreport/internal/config"
	"trailreport/internal/domain"
	"trailreport/internal/store"
)

// FileTooLargeError rejects a video over the configured byte cap.
type FileTooLargeError struct {
	Name string
	Size int64
	Max  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s is %d bytes, cap is %d", e.Name, e.Size, e.Max)
}

// VideoManager mirrors PhotoManager for the video collection. Videos are
// stored verbatim: no transcode, no metadata stripping, only the size cap.
type VideoManager struct {
	Store store.Store
	Cfg   *config.Config
	Log   *zap.Logger
	Now   func() time.Time

	mu     sync.Mutex
	formID string
	videos []domain.MediaEntry
}

func NewVideoManager(db *sql.DB, cfg *config.Config, log *zap.Logger) *VideoManager {
	return &VideoManager{
		Store: store.Store{DB: db},
		Cfg:   cfg,
		Log:   log,
		Now:   time.Now,
	}
}

func (v *VideoManager) Bind(ctx context.Context, formID string) error {
	entries, err := v.Store.ListMediaByForm(ctx, domain.MediaVideo, formID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formID = formID
	v.videos = entries
	return v.renumberLocked(ctx)
}

// Add persists a batch in chronological order. Oversized or non-video files
// are reported per file and skipped.
func (v *VideoManager) Add(ctx context.Context, blobs []domain.FileBlob) ([]domain.MediaEntry, []error) {
	now := v.Now()
	type staged struct {
		blob domain.FileBlob
		meta Meta
	}
	var batch []staged
	var errs []error
	for _, b := range blobs {
		if !strings.HasPrefix(b.MimeType, "video/") {
			errs = append(errs, fmt.Errorf("skip %s: unsupported type %s", b.Name, b.MimeType))
			continue
		}
		if size := int64(len(b.Data)); size > v.Cfg.Video.MaxBytes {
			errs = append(errs, &FileTooLargeError{Name: b.Name, Size: size, Max: v.Cfg.Video.MaxBytes})
			continue
		}
		batch = append(batch, staged{blob: b, meta: ExtractMeta(b, now)})
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].meta.Timestamp < batch[j].meta.Timestamp
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	var added []domain.MediaEntry
	for _, s := range batch {
		entry := domain.MediaEntry{
			ID:              uuid.NewString(),
			FormID:          v.formID,
			Order:           len(v.videos),
			Timestamp:       s.meta.Timestamp,
			TimestampSource: s.meta.Source,
			File:            s.blob,
		}
		if err := v.Store.InsertMedia(ctx, domain.MediaVideo, entry); err != nil {
			v.Log.Warn("video intake failed", zap.String("name", s.blob.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		v.videos = append(v.videos, entry)
		added = append(added, entry)
	}
	return added, errs
}

func (v *VideoManager) Videos() []domain.MediaEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.MediaEntry, len(v.videos))
	copy(out, v.videos)
	return out
}

func (v *VideoManager) Move(ctx context.Context, id string, to int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	from := v.indexLocked(id)
	if from < 0 {
		return store.ErrNotFound
	}
	if to < 0 {
		to = 0
	}
	if to >= len(v.videos) {
		to = len(v.videos) - 1
	}
	entry := v.videos[from]
	v.videos = append(v.videos[:from], v.videos[from+1:]...)
	v.videos = append(v.videos[:to], append([]domain.MediaEntry{entry}, v.videos[to:]...)...)
	return v.renumberLocked(ctx)
}

func (v *VideoManager) SetCaption(ctx context.Context, id, caption string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexLocked(id)
	if i < 0 {
		return store.ErrNotFound
	}
	v.videos[i].Caption = caption
	return v.Store.UpdateMediaCaption(ctx, domain.MediaVideo, id, caption)
}

func (v *VideoManager) Remove(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexLocked(id)
	if i < 0 {
		return store.ErrNotFound
	}
	if err := v.Store.DeleteMedia(ctx, domain.MediaVideo, id); err != nil {
		return err
	}
	v.videos = append(v.videos[:i], v.videos[i+1:]...)
	return v.renumberLocked(ctx)
}

func (v *VideoManager) indexLocked(id string) int {
	for i := range v.videos {
		if v.videos[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *VideoManager) renumberLocked(ctx context.Context) error {
	for i := range v.videos {
		if v.videos[i].Order == i {
			continue
		}
		v.videos[i].Order = i
		if err := v.Store.UpdateMediaOrder(ctx, domain.MediaVideo, v.videos[i].ID, i); err != nil {
			return err
		}
	}
	return nil
}
