package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trailreport/internal/app"
	"trailreport/internal/config"
	"trailreport/internal/db"
	"trailreport/internal/domain"
	"trailreport/internal/server"
	"trailreport/internal/transport"
	"trailreport/internal/uploader"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "trailreport",
	Short: "Trail report CLI",
	Long: `Trailreport prepares ski-trail condition reports offline and submits them to the CMS.
A draft lives in the local .trailreport workspace: form fields autosave as you edit,
photos are resized and ordered by capture time, videos ride along untouched, and a GPS
track can be recorded or imported from GPX. Submit uploads everything, then posts one
consolidated report document.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("TRAILREPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	var err error
	if viper.GetBool("verbose") {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		logger = zap.NewNop()
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().String("token", "", "CMS bearer token (or TRAILREPORT_TOKEN)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(photoCmd())
	rootCmd.AddCommand(videoCmd())
	rootCmd.AddCommand(trackCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default trailreport.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Manage the report draft"}
	draft.AddCommand(draftCreateCmd())
	draft.AddCommand(draftShowCmd())
	draft.AddCommand(draftSaveCmd())
	draft.AddCommand(draftCancelCmd())
	return draft
}

func draftCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create or reuse the active draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Drafts.CreateDraft(ctx, nil)
				if err != nil {
					return err
				}
				f, err := a.Store.GetForm(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active draft and its saved fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Drafts.Active(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
}

func draftSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Merge a field snapshot into the active draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			var snapshot domain.FormState
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return fmt.Errorf("invalid snapshot json: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Drafts.Active(ctx)
				if err != nil {
					return err
				}
				if err := a.Drafts.Autosave(ctx, f.ID, snapshot); err != nil {
					return err
				}
				fmt.Println("saved", f.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "snapshot JSON file, - for stdin")
	return cmd
}

func draftCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Delete the active draft and its media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f, err := a.Drafts.Active(ctx)
				if err != nil {
					return err
				}
				if err := a.Drafts.Cancel(ctx, f.ID); err != nil {
					return err
				}
				fmt.Println("canceled", f.ID)
				return nil
			})
		},
	}
}

func photoCmd() *cobra.Command {
	photo := &cobra.Command{Use: "photo", Short: "Manage draft photos"}
	photo.AddCommand(photoAddCmd())
	photo.AddCommand(photoListCmd())
	photo.AddCommand(mediaCaptionCmd("photo"))
	photo.AddCommand(mediaMoveCmd("photo"))
	photo.AddCommand(photoRotateCmd())
	photo.AddCommand(mediaRmCmd("photo"))
	return photo
}

func videoCmd() *cobra.Command {
	video := &cobra.Command{Use: "video", Short: "Manage draft videos"}
	video.AddCommand(videoAddCmd())
	video.AddCommand(videoListCmd())
	video.AddCommand(mediaCaptionCmd("video"))
	video.AddCommand(mediaMoveCmd("video"))
	video.AddCommand(mediaRmCmd("video"))
	return video
}

func photoAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Add photos to the active draft",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := readBlobs(args)
			if err != nil {
				return err
			}
			return withActiveMedia(cmd.Context(), "photo", func(ctx context.Context, a *app.App) error {
				added, errs := a.Photos.Add(ctx, blobs)
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, "skipped:", e)
				}
				fmt.Printf("added %d of %d\n", len(added), len(blobs))
				return nil
			})
		},
	}
}

func videoAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Add videos to the active draft",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := readBlobs(args)
			if err != nil {
				return err
			}
			return withActiveMedia(cmd.Context(), "video", func(ctx context.Context, a *app.App) error {
				added, errs := a.Videos.Add(ctx, blobs)
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, "skipped:", e)
				}
				fmt.Printf("added %d of %d\n", len(added), len(blobs))
				return nil
			})
		},
	}
}

func photoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List photos in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), "photo", func(ctx context.Context, a *app.App) error {
				return renderMedia(a.Photos.Photos())
			})
		},
	}
}

func videoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List videos in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), "video", func(ctx context.Context, a *app.App) error {
				return renderMedia(a.Videos.Videos())
			})
		},
	}
}

func mediaCaptionCmd(kind string) *cobra.Command {
	return &cobra.Command{
		Use:   "caption <id> <text>",
		Short: "Set a caption",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), kind, func(ctx context.Context, a *app.App) error {
				if kind == "photo" {
					return a.Photos.SetCaption(ctx, args[0], args[1])
				}
				return a.Videos.SetCaption(ctx, args[0], args[1])
			})
		},
	}
}

func mediaMoveCmd(kind string) *cobra.Command {
	var to int
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move to a new position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), kind, func(ctx context.Context, a *app.App) error {
				if kind == "photo" {
					return a.Photos.Move(ctx, args[0], to)
				}
				return a.Videos.Move(ctx, args[0], to)
			})
		},
	}
	cmd.Flags().IntVar(&to, "to", 0, "target position, zero-based")
	return cmd
}

func photoRotateCmd() *cobra.Command {
	var degrees int
	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Rotate a photo clockwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), "photo", func(ctx context.Context, a *app.App) error {
				return a.Photos.Rotate(ctx, args[0], degrees)
			})
		},
	}
	cmd.Flags().IntVar(&degrees, "degrees", 90, "90, 180 or 270")
	return cmd
}

func mediaRmCmd(kind string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveMedia(cmd.Context(), kind, func(ctx context.Context, a *app.App) error {
				if kind == "photo" {
					return a.Photos.Remove(ctx, args[0])
				}
				return a.Videos.Remove(ctx, args[0])
			})
		},
	}
}

func trackCmd() *cobra.Command {
	track := &cobra.Command{Use: "track", Short: "GPS track recording"}
	track.AddCommand(trackStartCmd())
	track.AddCommand(trackAppendCmd())
	track.AddCommand(trackStopCmd())
	track.AddCommand(trackStatsCmd())
	track.AddCommand(trackListCmd())
	track.AddCommand(trackImportCmd())
	track.AddCommand(trackExportCmd())
	return track
}

func trackStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Recorder.Start(ctx); err != nil {
					return err
				}
				fmt.Println("recording")
				return nil
			})
		},
	}
}

func trackAppendCmd() *cobra.Command {
	var lat, lon, ele, acc float64
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a GPS sample to the recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Recorder.Resume(ctx); err != nil {
					return err
				}
				p := domain.TrackPoint{Lat: lat, Lon: lon}
				if cmd.Flags().Changed("ele") {
					p.Elevation = &ele
				}
				if cmd.Flags().Changed("accuracy") {
					p.Accuracy = &acc
				}
				stats, err := a.Recorder.Append(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().Float64Var(&ele, "ele", 0, "elevation meters")
	cmd.Flags().Float64Var(&acc, "accuracy", 0, "accuracy meters")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}

func trackStopCmd() *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop and consolidate the recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Recorder.Resume(ctx); err != nil {
					return err
				}
				if discard {
					if err := a.Recorder.Discard(ctx); err != nil {
						return err
					}
					fmt.Println("discarded")
					return nil
				}
				t, err := a.Recorder.Stop(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("track %s: %d points, %.2f km\n", t.ID, len(t.Points), t.TotalDistanceKm)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "drop the recording without saving")
	return cmd
}

func trackStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Live or latest track summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Recorder.Resume(ctx); err != nil {
					return err
				}
				stats, err := a.Recorder.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func trackListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List consolidated tracks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tracks, err := a.Store.ListTracks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tracks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Start", "End", "Points", "Km"})
				for _, t := range tracks {
					tw.AppendRow(table.Row{t.ID, t.StartTime, t.EndTime, len(t.Points), fmt.Sprintf("%.2f", t.TotalDistanceKm)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func trackImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.gpx>",
		Short: "Import a GPX document as a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Recorder.ImportGPX(ctx, data)
				if err != nil {
					return err
				}
				fmt.Printf("imported %s: %d points, %.2f km\n", t.ID, len(t.Points), t.TotalDistanceKm)
				return nil
			})
		},
	}
}

func trackExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the latest track as GPX",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Recorder.ExportGPX(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func submitCmd() *cobra.Command {
	var reportFile string
	var withTrack bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload attachments and submit the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(reportFile)
			if err != nil {
				return err
			}
			report, err := parseReport(data)
			if err != nil {
				return err
			}
			token := viper.GetString("token")
			if token == "" {
				return fmt.Errorf("--token or TRAILREPORT_TOKEN required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				client := transport.NewClient(
					a.Cfg.CMS.BaseURL, a.Cfg.CMS.UploadPath, a.Cfg.CMS.SubmitPath,
					token, time.Duration(a.Cfg.CMS.TimeoutSeconds)*time.Second)
				if expired, err := client.TokenExpired(time.Now()); err == nil && expired {
					return fmt.Errorf("bearer token is expired; sign in again before submitting")
				}
				f, err := a.Drafts.Active(ctx)
				if err != nil {
					return err
				}
				if err := a.Photos.Bind(ctx, f.ID); err != nil {
					return err
				}
				if err := a.Videos.Bind(ctx, f.ID); err != nil {
					return err
				}
				req := uploader.Request{Report: report}
				for _, p := range a.Photos.Photos() {
					req.Photos = append(req.Photos, uploader.Attachment{ID: p.ID, File: p.File, Caption: p.Caption})
				}
				for _, v := range a.Videos.Videos() {
					req.Videos = append(req.Videos, uploader.Attachment{ID: v.ID, File: v.File, Caption: v.Caption})
				}
				if withTrack {
					ok, err := a.Recorder.HasTrack(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no track to attach; record or import one first")
					}
					gpx, err := a.Recorder.ExportGPX(ctx)
					if err != nil {
						return err
					}
					req.GPX = gpx
				}
				orch := uploader.New(client, client, logger)
				result, err := orch.Run(ctx, req, func(frac float64) {
					fmt.Printf("\ruploading %3.0f%%", frac*100)
				})
				fmt.Println()
				if err != nil {
					return err
				}
				if err := a.Drafts.MarkSubmitted(ctx, f.ID); err != nil {
					return err
				}
				fmt.Println("submitted", f.ID)
				if result.NbNodeURL != "" {
					fmt.Println("report:", result.NbNodeURL)
				}
				for _, u := range result.FBPageURLs {
					fmt.Println("facebook:", u)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&reportFile, "report", "r", "-", "report fields JSON, - for stdin")
	cmd.Flags().BoolVar(&withTrack, "with-track", false, "attach the latest GPX track")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail activity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Events.Latest(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(evts)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run retention cleanup and orphan sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Drafts.RetentionCleanup(ctx); err != nil {
					return err
				}
				if err := a.Drafts.SweepOrphans(ctx); err != nil {
					return err
				}
				fmt.Println("sweep complete")
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{App: a, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving trail report API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withActiveMedia binds both media managers to the active draft before
// running the command.
func withActiveMedia(ctx context.Context, kind string, fn func(context.Context, *app.App) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		f, err := a.Drafts.Active(ctx)
		if err != nil {
			return err
		}
		if kind == "photo" {
			if err := a.Photos.Bind(ctx, f.ID); err != nil {
				return err
			}
		} else {
			if err := a.Videos.Bind(ctx, f.ID); err != nil {
				return err
			}
		}
		return fn(ctx, a)
	})
}

func renderMedia(entries []domain.MediaEntry) error {
	if viper.GetBool("json") {
		for i := range entries {
			entries[i].File.Data = nil
		}
		return printJSON(entries)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Timestamp", "Source", "Caption"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.Order, e.ID, e.File.Name, e.Timestamp, e.TimestampSource, e.Caption})
	}
	tw.Render()
	return nil
}

func readBlobs(paths []string) ([]domain.FileBlob, error) {
	var blobs []domain.FileBlob
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		blob := domain.FileBlob{
			Name:     filepath.Base(p),
			MimeType: mimeType,
			Data:     data,
		}
		if info, err := os.Stat(p); err == nil {
			blob.LastModified = info.ModTime().UTC().Format(time.RFC3339)
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

// parseReport decodes the report fields document using its reportType
// discriminator.
func parseReport(data []byte) (domain.ReportPayload, error) {
	var probe struct {
		ReportType string `json:"reportType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.ReportPayload{}, fmt.Errorf("invalid report json: %w", err)
	}
	switch probe.ReportType {
	case domain.ReportTypeAdmin:
		var r domain.AdminReport
		if err := json.Unmarshal(data, &r); err != nil {
			return domain.ReportPayload{}, fmt.Errorf("invalid admin report: %w", err)
		}
		return domain.ReportPayload{Admin: &r}, nil
	case domain.ReportTypeRegular, "":
		var r domain.RegularReport
		if err := json.Unmarshal(data, &r); err != nil {
			return domain.ReportPayload{}, fmt.Errorf("invalid report: %w", err)
		}
		return domain.ReportPayload{Regular: &r}, nil
	default:
		return domain.ReportPayload{}, fmt.Errorf("unknown reportType %q", probe.ReportType)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
