package app

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"trailreport/internal/config"
	"trailreport/internal/db"
	"trailreport/internal/draft"
	"trailreport/internal/events"
	"trailreport/internal/media"
	"trailreport/internal/migrate"
	"trailreport/internal/store"
	"trailreport/internal/track"
)

// App wires the storage layer and the managers together once. Everything
// downstream receives its dependencies from here instead of reaching for
// globals.
type App struct {
	DB       *sql.DB
	Cfg      *config.Config
	Log      *zap.Logger
	Store    store.Store
	Events   events.Writer
	Drafts   *draft.Manager
	Photos   *media.PhotoManager
	Videos   *media.VideoManager
	Recorder *track.Recorder
}

// Open loads config, opens the workspace database, runs migrations and
// builds the managers.
func Open(workspace string, log *zap.Logger) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, cfg, log), nil
}

// New builds an App over an already-open database. Tests use this with an
// in-temp-dir database and a fixed clock.
func New(conn *sql.DB, cfg *config.Config, log *zap.Logger) *App {
	return &App{
		DB:       conn,
		Cfg:      cfg,
		Log:      log,
		Store:    store.Store{DB: conn},
		Events:   events.Writer{DB: conn},
		Drafts:   draft.New(conn, log),
		Photos:   media.NewPhotoManager(conn, cfg, log),
		Videos:   media.NewVideoManager(conn, cfg, log),
		Recorder: track.NewRecorder(conn, log),
	}
}

// WithClock pins every manager to the same time source.
func (a *App) WithClock(now func() time.Time) *App {
	a.Drafts.Now = now
	a.Photos.Now = now
	a.Videos.Now = now
	a.Recorder.Now = now
	a.Events.Now = now
	return a
}

func (a *App) Close() error {
	return a.DB.Close()
}
