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

// PhotoManager keeps the in-memory photo list for one form in sync with the
// photo collection. Mutations renumber positions so order stays dense and
// zero-based; all list access goes through the mutex.
type PhotoManager struct {
	Store store.Store
	Cfg   *config.Config
	Log   *zap.Logger
	Now   func() time.Time

	mu     sync.Mutex
	formID string
	photos []domain.MediaEntry
}

func NewPhotoManager(db *sql.DB, cfg *config.Config, log *zap.Logger) *PhotoManager {
	return &PhotoManager{
		Store: store.Store{DB: db},
		Cfg:   cfg,
		Log:   log,
		Now:   time.Now,
	}
}

// Bind loads the persisted photos of a form and makes it the active form.
// Positions are rewritten dense in case a crash left a gap.
func (p *PhotoManager) Bind(ctx context.Context, formID string) error {
	entries, err := p.Store.ListMediaByForm(ctx, domain.MediaPhoto, formID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formID = formID
	p.photos = entries
	return p.renumberLocked(ctx)
}

// Add runs the intake pipeline over a batch: extract metadata from the
// original bytes, order the batch chronologically, resize and re-encode,
// then persist and append. A file that fails to transform is reported and
// skipped; the rest of the batch proceeds.
func (p *PhotoManager) Add(ctx context.Context, blobs []domain.FileBlob) ([]domain.MediaEntry, []error) {
	now := p.Now()
	type staged struct {
		blob domain.FileBlob
		meta Meta
	}
	var batch []staged
	var errs []error
	for _, b := range blobs {
		if !strings.HasPrefix(b.MimeType, "image/") {
			errs = append(errs, fmt.Errorf("skip %s: unsupported type %s", b.Name, b.MimeType))
			continue
		}
		batch = append(batch, staged{blob: b, meta: ExtractMeta(b, now)})
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].meta.Timestamp < batch[j].meta.Timestamp
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	var added []domain.MediaEntry
	for _, s := range batch {
		var stamp string
		if p.Cfg.Operator.Admin && p.Cfg.Operator.StampPhotos {
			stamp = s.meta.Timestamp
		}
		data, err := processPhoto(s.blob.Data, s.blob.Name, p.Cfg.Photo.MaxEdge, p.Cfg.Photo.JPEGQuality, stamp)
		if err != nil {
			p.Log.Warn("photo intake failed", zap.String("name", s.blob.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		entry := domain.MediaEntry{
			ID:              uuid.NewString(),
			FormID:          p.formID,
			Order:           len(p.photos),
			Timestamp:       s.meta.Timestamp,
			TimestampSource: s.meta.Source,
			File: domain.FileBlob{
				Name:         s.blob.Name,
				MimeType:     "image/jpeg",
				LastModified: s.blob.LastModified,
				Data:         data,
			},
			Geo: s.meta.Geo,
		}
		if err := p.Store.InsertMedia(ctx, domain.MediaPhoto, entry); err != nil {
			errs = append(errs, err)
			continue
		}
		p.photos = append(p.photos, entry)
		added = append(added, entry)
	}
	return added, errs
}

// Photos returns the current entries in display order.
func (p *PhotoManager) Photos() []domain.MediaEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.MediaEntry, len(p.photos))
	copy(out, p.photos)
	return out
}

// Move repositions one photo to the target index and renumbers the rest so
// positions stay dense. The renumber persists before Move returns.
func (p *PhotoManager) Move(ctx context.Context, id string, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.indexLocked(id)
	if from < 0 {
		return store.ErrNotFound
	}
	if to < 0 {
		to = 0
	}
	if to >= len(p.photos) {
		to = len(p.photos) - 1
	}
	entry := p.photos[from]
	p.photos = append(p.photos[:from], p.photos[from+1:]...)
	p.photos = append(p.photos[:to], append([]domain.MediaEntry{entry}, p.photos[to:]...)...)
	return p.renumberLocked(ctx)
}

// Rotate replaces the stored pixels with a rotated re-encode. Further quarter
// turns compose with earlier ones.
func (p *PhotoManager) Rotate(ctx context.Context, id string, degrees int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(id)
	if i < 0 {
		return store.ErrNotFound
	}
	entry := &p.photos[i]
	data, err := rotateJPEG(entry.File.Data, entry.File.Name, degrees, p.Cfg.Photo.JPEGQuality)
	if err != nil {
		return err
	}
	entry.File.Data = data
	return p.Store.ReplaceMediaFile(ctx, domain.MediaPhoto, id, entry.File)
}

func (p *PhotoManager) SetCaption(ctx context.Context, id, caption string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(id)
	if i < 0 {
		return store.ErrNotFound
	}
	p.photos[i].Caption = caption
	return p.Store.UpdateMediaCaption(ctx, domain.MediaPhoto, id, caption)
}

// Remove deletes one photo and renumbers the survivors.
func (p *PhotoManager) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(id)
	if i < 0 {
		return store.ErrNotFound
	}
	if err := p.Store.DeleteMedia(ctx, domain.MediaPhoto, id); err != nil {
		return err
	}
	p.photos = append(p.photos[:i], p.photos[i+1:]...)
	return p.renumberLocked(ctx)
}

func (p *PhotoManager) indexLocked(id string) int {
	for i := range p.photos {
		if p.photos[i].ID == id {
			return i
		}
	}
	return -1
}

// renumberLocked writes array position back as the persisted order for any
// entry that drifted. Array position wins over stored position.
func (p *PhotoManager) renumberLocked(ctx context.Context) error {
	for i := range p.photos {
		if p.photos[i].Order == i {
			continue
		}
		p.photos[i].Order = i
		if err := p.Store.UpdateMediaOrder(ctx, domain.MediaPhoto, p.photos[i].ID, i); err != nil {
			return err
		}
	}
	return nil
}
