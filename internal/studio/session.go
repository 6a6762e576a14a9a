// Package studio owns the editing session of one scene: it recomputes the
// timeline whenever its inputs change, feeds the playback engine and routes
// committed edits to persistence.
package studio

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"motion-timeline/internal/alignment"
	"motion-timeline/internal/editing"
	"motion-timeline/internal/manifest"
	"motion-timeline/internal/models"
	"motion-timeline/internal/playback"
	"motion-timeline/internal/reconcile"
	"motion-timeline/internal/scene"
	"motion-timeline/internal/segments"
	"motion-timeline/internal/tracks"
)

var (
	ErrNoScene     = errors.New("no scene open")
	ErrUnknownClip = errors.New("unknown clip")
	ErrTrackLocked = errors.New("track is locked")
	ErrFixedClip   = errors.New("clip position is fixed")
)

// ManifestFile is written next to scene.json by ExportManifest.
const ManifestFile = "render_manifest.json"

// SceneStore is the persistence collaborator.
type SceneStore interface {
	LoadScene(projectID, sceneID string) ([]byte, error)
	ApplyClipEdit(projectID, sceneID string, kind models.TrackKind, sourcePath string, t models.ClipTiming) ([]byte, error)
	WriteSceneFile(projectID, sceneID, name string, data []byte) (string, error)
}

// Notifier receives everything the presentation layer needs to know.
type Notifier interface {
	TimelineChanged(tl Timeline)
	ClipCommitted(kind models.TrackKind, clipID string, t models.ClipTiming)
	EditFailed(clipID string, err error)
	StreamFailed(clipID, url string)
	Playhead(elapsed float64, segmentID string)
	Ended()
}

// Timeline is the computed state of the open scene.
type Timeline struct {
	ProjectID     string                            `json:"projectId"`
	SceneID       string                            `json:"sceneId"`
	Language      string                            `json:"language"`
	Baseline      string                            `json:"baseline"`
	Languages     []string                          `json:"languages"`
	Tracks        models.TrackSet                   `json:"tracks"`
	Clips         []models.AudioClip                `json:"clips"`
	Segments      []models.VisualSegment            `json:"segments"`
	Duration      float64                           `json:"duration"`
	StaleURLs     []string                          `json:"staleUrls"`
	StaleClips    []models.AudioClip                `json:"staleClips"`
	TrackSettings map[models.TrackKind]TrackSetting `json:"trackSettings"`
}

// TrackSetting mirrors the per-track toggles of the timeline UI.
type TrackSetting struct {
	Locked  bool `json:"locked"`
	Visible bool `json:"visible"`
}

type Options struct {
	Tracks    tracks.Options
	Baseline  string
	Editing   editing.Options
	Playback  playback.Options
	Streams   playback.StreamFactory
	FrameRate int
	Logger    zerolog.Logger
}

type source struct {
	kind models.TrackKind
	path string
	base models.ClipTiming
}

type Session struct {
	mu     sync.Mutex
	store  SceneStore
	notify Notifier
	log    zerolog.Logger
	opts   Options

	engine *playback.Engine
	editor *editing.Controller
	stale  *tracks.StaleSet

	projectID string
	sceneID   string
	sc        *scene.Scene
	language  string
	baseline  string
	muted     models.MuteSet
	settings  map[models.TrackKind]TrackSetting
	timeline  Timeline
	sources   map[string]source
}

func NewSession(store SceneStore, notify Notifier, opts Options) *Session {
	if opts.Tracks.DefaultLanguage == "" {
		opts.Tracks.DefaultLanguage = tracks.DefaultOptions().DefaultLanguage
	}
	if opts.Tracks.Buffers == (models.AlignmentBuffers{}) {
		opts.Tracks.Buffers = models.DefaultBuffers()
	}
	if opts.Baseline == "" {
		opts.Baseline = opts.Tracks.DefaultLanguage
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	s := &Session{
		store:    store,
		notify:   notify,
		log:      opts.Logger,
		opts:     opts,
		stale:    tracks.NewStaleSet(),
		baseline: opts.Baseline,
		language: opts.Baseline,
		muted:    make(models.MuteSet),
		settings: defaultSettings(),
		sources:  make(map[string]source),
	}
	opts.Editing.Logger = opts.Logger
	opts.Editing.OnSettled = s.settled
	s.editor = editing.NewController(s.commit, opts.Editing)

	opts.Playback.Logger = opts.Logger
	s.engine = playback.NewEngine(opts.Streams, playback.Hooks{
		OnPlayhead: notify.Playhead,
		OnStreamError: func(clipID, url string, err error) {
			// engine callbacks can arrive while a recompute holds the lock
			go s.ReportStreamFailure(clipID, url)
		},
		OnEnded: notify.Ended,
	}, opts.Playback)
	return s
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) TimelineChanged(Timeline) {}
func (NopNotifier) ClipCommitted(models.TrackKind, string, models.ClipTiming) {}
func (NopNotifier) EditFailed(string, error) {}
func (NopNotifier) StreamFailed(string, string) {}
func (NopNotifier) Playhead(float64, string) {}
func (NopNotifier) Ended() {}

func defaultSettings() map[models.TrackKind]TrackSetting {
	out := make(map[models.TrackKind]TrackSetting)
	for _, k := range []models.TrackKind{models.TrackVideo, models.TrackVoiceover, models.TrackDescription, models.TrackDialogue, models.TrackMusic, models.TrackSFX} {
		out[k] = TrackSetting{Visible: true}
	}
	return out
}

// --- SCENE ---

// Open loads a scene through the store and computes its timeline.
func (s *Session) Open(projectID, sceneID string) (Timeline, error) {
	data, err := s.store.LoadScene(projectID, sceneID)
	if err != nil {
		return Timeline{}, errors.Wrap(err, "open scene")
	}
	s.mu.Lock()
	s.projectID, s.sceneID = projectID, sceneID
	s.muted = make(models.MuteSet)
	s.editor.Close()
	tl := s.loadLocked(data)
	s.mu.Unlock()

	s.log.Info().Str("project", projectID).Str("scene", sceneID).Int("clips", len(tl.Clips)).Msg("scene opened")
	s.notify.TimelineChanged(tl)
	return tl, nil
}

// Reload replaces the scene document, e.g. after an external save.
func (s *Session) Reload(data []byte) Timeline {
	s.mu.Lock()
	tl := s.loadLocked(data)
	s.mu.Unlock()
	s.notify.TimelineChanged(tl)
	return tl
}

func (s *Session) loadLocked(data []byte) Timeline {
	s.sc = scene.Parse(data)
	if s.sceneID == "" {
		s.sceneID = s.sc.ID()
	}
	return s.recomputeLocked()
}

// Timeline returns the last computed timeline.
func (s *Session) Timeline() Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

// --- SELECTIONS ---

// SetLanguage switches the language being played and edited.
func (s *Session) SetLanguage(lang string) (Timeline, error) {
	return s.update(func() { s.language = lang })
}

// SetBaseline changes the positional reference language.
func (s *Session) SetBaseline(lang string) (Timeline, error) {
	return s.update(func() { s.baseline = lang })
}

// SetMuted mutes or unmutes one clip.
func (s *Session) SetMuted(clipID string, muted bool) (Timeline, error) {
	return s.update(func() {
		if muted {
			s.muted[clipID] = true
		} else {
			delete(s.muted, clipID)
		}
	})
}

// SetTrackVisible enables or disables a whole track for playback.
func (s *Session) SetTrackVisible(kind models.TrackKind, visible bool) (Timeline, error) {
	return s.update(func() {
		st := s.settings[kind]
		st.Visible = visible
		s.settings[kind] = st
	})
}

// SetTrackLocked prevents drags on a track.
func (s *Session) SetTrackLocked(kind models.TrackKind, locked bool) (Timeline, error) {
	return s.update(func() {
		st := s.settings[kind]
		st.Locked = locked
		s.settings[kind] = st
	})
}

// SetScale sets the pixels-per-second zoom of the timeline.
func (s *Session) SetScale(pps float64) {
	s.editor.SetScale(pps)
}

func (s *Session) update(fn func()) (Timeline, error) {
	s.mu.Lock()
	if s.sc == nil {
		s.mu.Unlock()
		return Timeline{}, ErrNoScene
	}
	fn()
	tl := s.recomputeLocked()
	s.mu.Unlock()
	s.notify.TimelineChanged(tl)
	return tl, nil
}

// --- TRANSPORT ---

func (s *Session) Play() { s.engine.Play() }
func (s *Session) Pause() { s.engine.Pause() }
func (s *Session) Stop() { s.engine.Stop() }
func (s *Session) Seek(t float64) { s.engine.Seek(t) }
func (s *Session) Playhead() float64 { return s.engine.Playhead() }
func (s *Session) Playing() bool { return s.engine.State() == playback.Playing }

// --- EDITING ---

// BeginDrag starts dragging a clip or a visual segment.
func (s *Session) BeginDrag(clipID string, kind editing.DragKind, anchorPx float64) error {
	// a new drag must not race with the transport
	s.engine.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sc == nil {
		return ErrNoScene
	}
	src, ok := s.sources[clipID]
	if !ok {
		return errors.Wrapf(ErrUnknownClip, "clip %s", clipID)
	}
	if s.settings[src.kind].Locked {
		return errors.Wrapf(ErrTrackLocked, "%s track", src.kind)
	}
	switch src.kind {
	case models.TrackMusic:
		return errors.Wrap(ErrFixedClip, "music follows the scene length")
	case models.TrackVoiceover, models.TrackVideo:
		if kind != editing.ResizeRight {
			return errors.Wrapf(ErrFixedClip, "%s clips can only be trimmed", src.kind)
		}
	case models.TrackDialogue, models.TrackSFX:
		// a dub takes its positions from the baseline layout
		if kind != editing.ResizeRight && !scene.SameLanguage(s.language, s.baseline) {
			return errors.Wrapf(ErrFixedClip, "%s clips of %s follow the %s layout", src.kind, s.language, s.baseline)
		}
	}
	s.editor.BeginDrag(editing.Target{ID: clipID, Kind: src.kind, Base: src.base}, kind, anchorPx)
	return nil
}

// UpdateDrag returns the tentative timing for the pointer position.
func (s *Session) UpdateDrag(pointerPx float64) (models.ClipTiming, bool) {
	return s.editor.Update(pointerPx)
}

// EndDrag finishes the drag; the edit is committed after the debounce.
func (s *Session) EndDrag() (models.ClipTiming, bool) {
	t, ok := s.editor.EndDrag()
	if ok {
		s.mu.Lock()
		tl := s.recomputeLocked()
		s.mu.Unlock()
		s.notify.TimelineChanged(tl)
	}
	return t, ok
}

func (s *Session) CancelDrag() {
	s.editor.Cancel()
}

// settled rebuilds the timeline once an unconfirmed overlay is dropped.
func (s *Session) settled(clipID string) {
	if _, err := s.update(func() {}); err == nil {
		s.log.Debug().Str("clip", clipID).Msg("timeline settled")
	}
}

// commit hands a finished edit to persistence and recomputes from the saved document.
func (s *Session) commit(kind models.TrackKind, clipID string, t models.ClipTiming) {
	s.mu.Lock()
	src, ok := s.sources[clipID]
	projectID, sceneID := s.projectID, s.sceneID
	s.mu.Unlock()

	s.notify.ClipCommitted(kind, clipID, t)
	if !ok {
		s.notify.EditFailed(clipID, errors.Wrapf(ErrUnknownClip, "clip %s", clipID))
		return
	}

	data, err := s.store.ApplyClipEdit(projectID, sceneID, kind, src.path, t)
	if err != nil {
		s.log.Error().Err(err).Str("clip", clipID).Msg("failed to save clip edit")
		s.notify.EditFailed(clipID, err)
		return
	}
	s.Reload(data)
}

// --- FAILURES ---

// ReportStreamFailure quarantines url, reports it once and rebuilds the
// timeline without it.
func (s *Session) ReportStreamFailure(clipID, url string) {
	if !s.stale.Add(url) {
		return
	}
	s.log.Warn().Str("clip", clipID).Str("url", url).Msg("audio quarantined")
	s.notify.StreamFailed(clipID, url)

	s.mu.Lock()
	if s.sc == nil {
		s.mu.Unlock()
		return
	}
	tl := s.recomputeLocked()
	s.mu.Unlock()
	s.notify.TimelineChanged(tl)
}

// --- EXPORT ---

// ExportManifest writes the render job of the current timeline next to the scene.
func (s *Session) ExportManifest(resolution string) (string, error) {
	s.mu.Lock()
	if s.sc == nil {
		s.mu.Unlock()
		return "", ErrNoScene
	}
	tl := s.timeline
	s.mu.Unlock()

	job := manifest.Build(tl.Segments, tl.Clips, manifest.Options{
		ProjectID:  tl.ProjectID,
		SceneID:    tl.SceneID,
		Language:   tl.Language,
		Resolution: resolution,
		FPS:        s.opts.FrameRate,
	})
	for _, sk := range job.Skipped {
		s.log.Warn().Str("id", sk.ID).Str("reason", sk.Reason).Msg("left out of render manifest")
	}
	data, err := job.JSON()
	if err != nil {
		return "", errors.Wrap(err, "encode manifest")
	}
	path, err := s.store.WriteSceneFile(tl.ProjectID, tl.SceneID, ManifestFile, data)
	if err != nil {
		return "", errors.Wrap(err, "write manifest")
	}
	s.log.Info().Str("path", path).Int("clips", len(job.AudioClips)).Msg("render manifest exported")
	return path, nil
}

// Close cancels pending edits and stops playback.
func (s *Session) Close() {
	s.editor.Close()
	s.engine.Stop()
}

// --- RECOMPUTE ---

func (s *Session) recomputeLocked() Timeline {
	opts := s.opts.Tracks
	b := opts.Buffers

	// 1. Tracks: aligned for the baseline, reconciled for a dub
	var (
		ts       models.TrackSet
		duration float64
	)
	if scene.SameLanguage(s.language, s.baseline) {
		var res alignment.Result
		ts, res = alignment.AlignTrackSet(tracks.Extract(s.sc, s.language, opts), s.muted, b)
		duration = res.TotalDuration
	} else {
		ts = reconcile.Reconcile(s.sc, s.language, s.baseline, opts)
		markMuted(&ts, s.muted)
		duration = reconcile.SceneDuration(ts, b)
	}

	// 2. Visuals absorb the overruns. Trims in flight apply to the base duration.
	raw := segments.FromScene(s.sc)
	for i := range raw {
		t := s.editor.Resolve(raw[i].ID, models.ClipTiming{StartTime: raw[i].StartTime, Duration: raw[i].BaseDuration})
		raw[i].BaseDuration = t.Duration
	}
	segs := segments.MapTiming(raw, ts)
	duration = max(duration, segments.TotalDisplayDuration(segs))

	// 3. Quarantine housekeeping, then the render list
	if dropped := s.stale.Prune(ts); len(dropped) > 0 {
		s.log.Debug().Strs("urls", dropped).Msg("released quarantined urls")
	}
	base := tracks.Flatten(ts, s.stale)
	clips := s.editor.Apply(base)

	s.sources = make(map[string]source, len(base)+len(segs))
	for _, c := range base {
		s.sources[c.ID] = source{kind: c.SourceKind, path: c.SourcePath, base: c.Timing()}
	}
	for _, sg := range segments.FromScene(s.sc) {
		s.sources[sg.ID] = source{
			kind: models.TrackVideo,
			path: sg.SourcePath,
			base: models.ClipTiming{StartTime: sg.StartTime, Duration: sg.BaseDuration},
		}
	}
	s.editor.SetSnapPoints(snapPoints(clips))

	// 4. Playback follows the rendered values
	disabled := make(models.TrackMask)
	for k, st := range s.settings {
		if !st.Visible {
			disabled[k] = true
		}
	}
	s.engine.SetDisabledTracks(disabled)
	s.engine.Load(playback.Timeline{Segments: segs, Clips: clips, Duration: duration})

	s.timeline = Timeline{
		ProjectID:     s.projectID,
		SceneID:       s.sceneID,
		Language:      s.language,
		Baseline:      s.baseline,
		Languages:     s.sc.Languages(),
		Tracks:        ts,
		Clips:         clips,
		Segments:      segs,
		Duration:      duration,
		StaleURLs:     s.stale.List(),
		StaleClips:    lo.Filter(clips, func(c models.AudioClip, _ int) bool { return c.IsStale }),
		TrackSettings: lo.Assign(s.settings),
	}
	return s.timeline
}

func markMuted(ts *models.TrackSet, muted models.MuteSet) {
	for _, c := range []*models.AudioClip{ts.Voiceover, ts.Description, ts.Music} {
		if c != nil && muted.Has(c.ID) {
			c.Muted = true
		}
	}
	for _, list := range [][]models.AudioClip{ts.Dialogue, ts.SFX} {
		for i := range list {
			if muted.Has(list[i].ID) {
				list[i].Muted = true
			}
		}
	}
}

// snapPoints are the start and end of every non-music clip.
func snapPoints(clips []models.AudioClip) []float64 {
	var pts []float64
	for _, c := range clips {
		if c.SourceKind == models.TrackMusic {
			continue
		}
		pts = append(pts, c.StartTime, c.End())
	}
	pts = lo.Uniq(pts)
	sort.Float64s(pts)
	return pts
}
