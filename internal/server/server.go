package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"trailreport/internal/app"
	"trailreport/internal/domain"
	"trailreport/internal/draft"
	"trailreport/internal/events"
	"trailreport/internal/media"
	"trailreport/internal/store"
	"trailreport/internal/track"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"form not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the trail report API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Trail Report API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDrafts(group, cfg.App)
	registerMedia(group, cfg.App)
	registerMediaUploads(router, basePath, cfg.App)
	registerTrack(group, cfg.App)
	registerEvents(group, cfg.App)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var tle *media.FileTooLargeError
	if errors.As(err, &tle) {
		return newAPIError(http.StatusRequestEntityTooLarge, "file_too_large", err.Error(),
			map[string]any{"size": tle.Size, "max": tle.Max})
	}
	var te *media.TransformError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "transform_failed", err.Error(),
			map[string]any{"op": te.Op, "name": te.Name})
	}
	if errors.Is(err, track.ErrNotRecording) || errors.Is(err, track.ErrAlreadyRecording) {
		return newAPIError(http.StatusConflict, "recording_conflict", err.Error(), nil)
	}
	if errors.Is(err, draft.ErrAlreadySubmitted) {
		return newAPIError(http.StatusConflict, "already_submitted", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusRequestEntityTooLarge:
		return "file_too_large"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Trail Report API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type FormPath struct {
	FormID string `path:"form_id"`
}

func registerDrafts(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/drafts",
		Summary:       "Create or reuse the active draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			FormState domain.FormState `json:"form_state,omitempty"`
		}
	}) (*struct {
		Body domain.FormRecord `json:"body"`
	}, error) {
		id, err := a.Drafts.CreateDraft(ctx, input.Body.FormState)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := a.Store.GetForm(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-active-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/active",
		Summary:     "Fetch the active draft",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.FormRecord `json:"body"`
	}, error) {
		f, err := a.Drafts.Active(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{form_id}",
		Summary:     "Fetch a draft",
	}, func(ctx context.Context, input *FormPath) (*struct {
		Body domain.FormRecord `json:"body"`
	}, error) {
		f, err := a.Store.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "autosave-draft",
		Method:      http.MethodPatch,
		Path:        "/drafts/{form_id}",
		Summary:     "Merge a field snapshot into the draft",
	}, func(ctx context.Context, input *struct {
		FormPath
		Body struct {
			FormState domain.FormState `json:"form_state"`
		}
	}) (*struct {
		Body domain.FormRecord `json:"body"`
	}, error) {
		if err := a.Drafts.Autosave(ctx, input.FormID, input.Body.FormState); err != nil {
			return nil, handleError(err)
		}
		f, err := a.Store.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{form_id}/submitted",
		Summary:     "Mark a draft submitted",
	}, func(ctx context.Context, input *FormPath) (*struct {
		Body domain.FormRecord `json:"body"`
	}, error) {
		if err := a.Drafts.MarkSubmitted(ctx, input.FormID); err != nil {
			return nil, handleError(err)
		}
		f, err := a.Store.GetForm(ctx, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormRecord `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-draft",
		Method:        http.MethodDelete,
		Path:          "/drafts/{form_id}",
		Summary:       "Cancel a draft and its media",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *FormPath) (*struct{}, error) {
		if err := a.Drafts.Cancel(ctx, input.FormID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type MediaPath struct {
	FormID  string `path:"form_id"`
	Kind    string `path:"kind" enum:"photos,videos"`
	MediaID string `path:"media_id"`
}

type mediaListPath struct {
	FormID string `path:"form_id"`
	Kind   string `path:"kind" enum:"photos,videos"`
}

func registerMedia(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-media",
		Method:      http.MethodGet,
		Path:        "/drafts/{form_id}/{kind}",
		Summary:     "List attachments in display order",
	}, func(ctx context.Context, input *mediaListPath) (*struct {
		Body []domain.MediaEntry `json:"body"`
	}, error) {
		entries, err := listMedia(ctx, a, input.Kind, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MediaEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-media-caption",
		Method:      http.MethodPatch,
		Path:        "/drafts/{form_id}/{kind}/{media_id}",
		Summary:     "Set an attachment caption",
	}, func(ctx context.Context, input *struct {
		MediaPath
		Body struct {
			Caption string `json:"caption"`
		}
	}) (*struct{}, error) {
		err := withBound(ctx, a, input.Kind, input.FormID, func() error {
			if input.Kind == "photos" {
				return a.Photos.SetCaption(ctx, input.MediaID, input.Body.Caption)
			}
			return a.Videos.SetCaption(ctx, input.MediaID, input.Body.Caption)
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-media",
		Method:      http.MethodPost,
		Path:        "/drafts/{form_id}/{kind}/{media_id}/move",
		Summary:     "Move an attachment to a new position",
	}, func(ctx context.Context, input *struct {
		MediaPath
		Body struct {
			To int `json:"to" minimum:"0"`
		}
	}) (*struct {
		Body []domain.MediaEntry `json:"body"`
	}, error) {
		err := withBound(ctx, a, input.Kind, input.FormID, func() error {
			if input.Kind == "photos" {
				return a.Photos.Move(ctx, input.MediaID, input.Body.To)
			}
			return a.Videos.Move(ctx, input.MediaID, input.Body.To)
		})
		if err != nil {
			return nil, handleError(err)
		}
		entries, err := listMedia(ctx, a, input.Kind, input.FormID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MediaEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rotate-photo",
		Method:      http.MethodPost,
		Path:        "/drafts/{form_id}/photos/{media_id}/rotate",
		Summary:     "Rotate a photo by quarter turns",
	}, func(ctx context.Context, input *struct {
		FormID  string `path:"form_id"`
		MediaID string `path:"media_id"`
		Body    struct {
			Degrees int `json:"degrees" enum:"90,180,270"`
		}
	}) (*struct{}, error) {
		err := withBound(ctx, a, "photos", input.FormID, func() error {
			return a.Photos.Rotate(ctx, input.MediaID, input.Body.Degrees)
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-media",
		Method:        http.MethodDelete,
		Path:          "/drafts/{form_id}/{kind}/{media_id}",
		Summary:       "Remove an attachment",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *MediaPath) (*struct{}, error) {
		err := withBound(ctx, a, input.Kind, input.FormID, func() error {
			if input.Kind == "photos" {
				return a.Photos.Remove(ctx, input.MediaID)
			}
			return a.Videos.Remove(ctx, input.MediaID)
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func listMedia(ctx context.Context, a *app.App, kind, formID string) ([]domain.MediaEntry, error) {
	k := domain.MediaPhoto
	if kind == "videos" {
		k = domain.MediaVideo
	}
	entries, err := a.Store.ListMediaByForm(ctx, k, formID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].File.Data = nil
	}
	return entries, nil
}

func withBound(ctx context.Context, a *app.App, kind, formID string, fn func() error) error {
	if _, err := a.Store.GetForm(ctx, formID); err != nil {
		return err
	}
	if kind == "photos" {
		if err := a.Photos.Bind(ctx, formID); err != nil {
			return err
		}
	} else {
		if err := a.Videos.Bind(ctx, formID); err != nil {
			return err
		}
	}
	return fn()
}

// registerMediaUploads adds the multipart intake routes outside huma; the
// batch pipeline reports per-file errors instead of failing the request.
func registerMediaUploads(r chi.Router, basePath string, a *app.App) {
	handler := func(kind string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			formID := chi.URLParam(req, "form_id")
			ctx := req.Context()
			if _, err := a.Store.GetForm(ctx, formID); err != nil {
				writeRawError(w, handleError(err))
				return
			}
			if err := req.ParseMultipartForm(256 << 20); err != nil {
				writeRawError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart body", nil))
				return
			}
			var blobs []domain.FileBlob
			for _, fh := range req.MultipartForm.File["file"] {
				f, err := fh.Open()
				if err != nil {
					writeRawError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
					return
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					writeRawError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
					return
				}
				blobs = append(blobs, domain.FileBlob{
					Name:         fh.Filename,
					MimeType:     fh.Header.Get("Content-Type"),
					LastModified: req.FormValue("last_modified"),
					Data:         data,
				})
			}
			var added []domain.MediaEntry
			var errs []error
			if kind == "photos" {
				if err := a.Photos.Bind(ctx, formID); err != nil {
					writeRawError(w, handleError(err))
					return
				}
				added, errs = a.Photos.Add(ctx, blobs)
			} else {
				if err := a.Videos.Bind(ctx, formID); err != nil {
					writeRawError(w, handleError(err))
					return
				}
				added, errs = a.Videos.Add(ctx, blobs)
			}
			for i := range added {
				added[i].File.Data = nil
			}
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"added":  added,
				"errors": msgs,
			})
		}
	}
	r.Post(path.Join(basePath, "/drafts/{form_id}/photos"), handler("photos"))
	r.Post(path.Join(basePath, "/drafts/{form_id}/videos"), handler("videos"))
}

func writeRawError(w http.ResponseWriter, err huma.StatusError) {
	ae, ok := err.(*apiError)
	if !ok {
		http.Error(w, err.Error(), err.GetStatus())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.status)
	json.NewEncoder(w).Encode(map[string]any{"error": ae.Body})
}

func registerTrack(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/track/recording",
		Summary:     "Start a GPS recording",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.TrackStats `json:"body"`
	}, error) {
		if err := a.Recorder.Start(ctx); err != nil {
			return nil, handleError(err)
		}
		stats, err := a.Recorder.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TrackStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-point",
		Method:      http.MethodPost,
		Path:        "/track/points",
		Summary:     "Append a GPS sample",
	}, func(ctx context.Context, input *struct {
		Body domain.TrackPoint
	}) (*struct {
		Body domain.TrackStats `json:"body"`
	}, error) {
		stats, err := a.Recorder.Append(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TrackStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodDelete,
		Path:        "/track/recording",
		Summary:     "Stop recording and consolidate the track",
	}, func(ctx context.Context, input *struct {
		Discard bool `query:"discard"`
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		if input.Discard {
			if err := a.Recorder.Discard(ctx); err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Track `json:"body"`
			}{}, nil
		}
		t, err := a.Recorder.Stop(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		t.Points = nil
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "track-stats",
		Method:      http.MethodGet,
		Path:        "/track/stats",
		Summary:     "Live or latest track summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.TrackStats `json:"body"`
	}, error) {
		stats, err := a.Recorder.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TrackStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tracks",
		Method:      http.MethodGet,
		Path:        "/tracks",
		Summary:     "List consolidated tracks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Track `json:"body"`
	}, error) {
		tracks, err := a.Store.ListTracks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range tracks {
			tracks[i].Points = nil
		}
		return &struct {
			Body []domain.Track `json:"body"`
		}{Body: tracks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-gpx",
		Method:      http.MethodGet,
		Path:        "/track/gpx",
		Summary:     "Export the latest track as GPX",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		data, err := a.Recorder.ExportGPX(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "application/gpx+xml", Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-gpx",
		Method:        http.MethodPut,
		Path:          "/track/gpx",
		Summary:       "Import a GPX document as a track",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body domain.Track `json:"body"`
	}, error) {
		t, err := a.Recorder.ImportGPX(ctx, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		t.Points = nil
		return &struct {
			Body domain.Track `json:"body"`
		}{Body: t}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent activity log entries",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"1" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []events.Event `json:"body"`
	}, error) {
		evts, err := a.Events.Latest(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []events.Event `json:"body"`
		}{Body: evts}, nil
	})
}
