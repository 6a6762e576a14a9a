package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"motion-timeline/internal/config"
	"motion-timeline/internal/editing"
	"motion-timeline/internal/models"
	"motion-timeline/internal/playback"
	"motion-timeline/internal/store"
	"motion-timeline/internal/studio"
	"motion-timeline/internal/transport"
	"motion-timeline/internal/tracks"
)

// App struct
type App struct {
	ctx     context.Context
	cfg     *config.Config
	log     zerolog.Logger
	store   *store.Store
	hub     *transport.Hub
	server  *transport.Server
	streams *streamRegistry
	session *studio.Session
}

// NewApp wires storage, the media server and the editing session.
func NewApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.New(cfg.Storage.Root, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, store: st}
	a.hub = transport.NewHub(log.With().Str("component", "hub").Logger())
	a.server = transport.NewServer(cfg.Server.Addr, cfg.Server.FrontendDir, a.hub, log.With().Str("component", "server").Logger())
	a.streams = newStreamRegistry(a.emit)

	a.session = studio.NewSession(st, notifier{a}, studio.Options{
		Tracks: tracks.Options{
			DefaultLanguage: cfg.Timeline.DefaultLanguage,
			Buffers:         cfg.Timeline.Buffers,
			WordsPerSecond:  cfg.Timeline.WordsPerSecond,
		},
		Baseline: cfg.Timeline.BaselineLanguage,
		Editing: editing.Options{
			PixelsPerSecond: cfg.Editing.PixelsPerSecond,
			MinDuration:     cfg.Editing.MinDuration,
			SnapEnabled:     cfg.Editing.Snap,
			SnapThreshold:   cfg.Editing.SnapThreshold,
			CommitDelay:     cfg.Editing.CommitDelay,
			ClearDelay:      cfg.Editing.ClearDelay,
		},
		Playback: playback.Options{
			DriftThreshold: cfg.Playback.DriftThreshold,
			Scheduler:      playback.NewTickerScheduler(cfg.Playback.FrameRate),
		},
		Streams:   a.streams.create,
		FrameRate: cfg.Render.FPS,
		Logger:    log.With().Str("component", "studio").Logger(),
	})

	a.hub.OnCommand(a.handleCommand)
	return a, nil
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error().Err(err).Msg("media server stopped")
		}
	}()
}

// shutdown stops playback and the media server.
func (a *App) shutdown(ctx context.Context) {
	a.session.Close()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("media server shutdown")
	}
}

// emit sends an event to the webview and to websocket clients.
func (a *App) emit(name string, data any) {
	if a.ctx != nil {
		runtime.EventsEmit(a.ctx, name, data)
	}
	a.hub.Broadcast(name, data)
}

func (a *App) handleCommand(cmd transport.Command) {
	switch cmd.Type {
	case "play":
		a.session.Play()
	case "pause":
		a.session.Pause()
	case "stop":
		a.session.Stop()
	case "seek":
		a.session.Seek(cmd.Time)
	default:
		a.log.Warn().Str("command", cmd.Type).Msg("unknown transport command")
	}
}

// --- PROJECT FUNCTIONS ---

func (a *App) CreateProject(name string, format string) (store.Project, error) {
	return a.store.CreateProject(name, format)
}

func (a *App) GetProjects() []store.Project {
	projects, err := a.store.ListProjects()
	if err != nil {
		a.log.Error().Err(err).Msg("list projects")
	}
	return projects
}

// --- SCENE FUNCTIONS ---

func (a *App) CreateScene(projectId string, name string) (store.SceneInfo, error) {
	return a.store.CreateScene(projectId, name)
}

func (a *App) GetScenes(projectId string) []store.SceneInfo {
	scenes, err := a.store.ListScenes(projectId)
	if err != nil {
		a.log.Error().Err(err).Str("project", projectId).Msg("list scenes")
	}
	return scenes
}

// OpenScene loads a scene into the timeline.
func (a *App) OpenScene(projectId string, sceneId string) (studio.Timeline, error) {
	a.session.Stop()
	return a.session.Open(projectId, sceneId)
}

// --- TIMELINE FUNCTIONS ---

func (a *App) GetTimeline() studio.Timeline {
	return a.session.Timeline()
}

func (a *App) SetLanguage(lang string) (studio.Timeline, error) {
	return a.session.SetLanguage(lang)
}

func (a *App) SetBaselineLanguage(lang string) (studio.Timeline, error) {
	return a.session.SetBaseline(lang)
}

func (a *App) SetClipMuted(clipId string, muted bool) (studio.Timeline, error) {
	return a.session.SetMuted(clipId, muted)
}

func (a *App) SetTrackVisible(track string, visible bool) (studio.Timeline, error) {
	return a.session.SetTrackVisible(models.TrackKind(track), visible)
}

func (a *App) SetTrackLocked(track string, locked bool) (studio.Timeline, error) {
	return a.session.SetTrackLocked(models.TrackKind(track), locked)
}

// SetZoom receives the timeline scale in pixels per second.
func (a *App) SetZoom(pixelsPerSecond float64) {
	a.session.SetScale(pixelsPerSecond)
}

// ExportRenderManifest writes render_manifest.json into the scene folder.
func (a *App) ExportRenderManifest(resolution string) (string, error) {
	return a.session.ExportManifest(resolution)
}

// --- TRANSPORT FUNCTIONS ---

func (a *App) Play() { a.session.Play() }

func (a *App) Pause() { a.session.Pause() }

func (a *App) Stop() { a.session.Stop() }

func (a *App) Seek(t float64) { a.session.Seek(t) }

func (a *App) GetPlayhead() float64 { return a.session.Playhead() }

// --- DRAG FUNCTIONS ---

// BeginDrag starts a move, resize-left or resize-right drag at pointer x.
func (a *App) BeginDrag(clipId string, mode string, x float64) error {
	kind, ok := dragKinds[mode]
	if !ok {
		return errors.Errorf("unknown drag mode %q", mode)
	}
	return a.session.BeginDrag(clipId, kind, x)
}

func (a *App) DragTo(x float64) models.ClipTiming {
	t, _ := a.session.UpdateDrag(x)
	return t
}

func (a *App) EndDrag() models.ClipTiming {
	t, _ := a.session.EndDrag()
	return t
}

func (a *App) CancelDrag() {
	a.session.CancelDrag()
}

var dragKinds = map[string]editing.DragKind{
	"move":         editing.Move,
	"resize-left":  editing.ResizeLeft,
	"resize-right": editing.ResizeRight,
}

// --- MEDIA ELEMENT REPORTS (frontend -> engine) ---

// ReportStreamState is called by the media elements of the webview.
func (a *App) ReportStreamState(streamId string, position float64, playing bool) {
	a.streams.report(streamId, position, playing)
}

// ReportStreamError is called when a media element fails to load its source.
func (a *App) ReportStreamError(clipId string, url string) {
	a.session.ReportStreamFailure(clipId, url)
}

// --- NOTIFIER ---

type notifier struct{ a *App }

func (n notifier) TimelineChanged(tl studio.Timeline) {
	n.a.emit("timeline:changed", tl)
}

func (n notifier) ClipCommitted(kind models.TrackKind, clipID string, t models.ClipTiming) {
	n.a.emit("clip:commit", map[string]any{"kind": kind, "clipId": clipID, "startTime": t.StartTime, "duration": t.Duration})
}

func (n notifier) EditFailed(clipID string, err error) {
	n.a.emit("clip:error", map[string]any{"clipId": clipID, "error": err.Error()})
}

func (n notifier) StreamFailed(clipID, url string) {
	n.a.emit("stream:error", map[string]any{"clipId": clipID, "url": url})
}

func (n notifier) Playhead(elapsed float64, segmentID string) {
	n.a.emit("playhead", map[string]any{"elapsed": elapsed, "segmentId": segmentID})
}

func (n notifier) Ended() {
	n.a.emit("playback:ended", nil)
}
