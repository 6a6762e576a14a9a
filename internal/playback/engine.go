// Package playback drives one video stream and any number of audio streams
// in lockstep from a single clock.
package playback

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"motion-timeline/internal/models"
	"motion-timeline/internal/segments"
)

// DefaultDriftThreshold is how far a stream may wander before it is re-seeked.
const DefaultDriftThreshold = 0.2

const videoStreamID = "video"

type State int

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// Timeline is everything the engine plays.
type Timeline struct {
	Segments []models.VisualSegment
	Clips    []models.AudioClip
	Duration float64
}

// Hooks receive engine output. They are called without the engine lock held.
type Hooks struct {
	OnPlayhead    func(elapsed float64, segmentID string)
	OnStreamError func(clipID, url string, err error)
	OnEnded       func()
}

type Options struct {
	DriftThreshold float64
	Clock          Clock
	Scheduler      Scheduler
	Logger         zerolog.Logger
}

type Engine struct {
	mu        sync.Mutex
	newStream StreamFactory
	hooks     Hooks
	clock     Clock
	scheduler Scheduler
	threshold float64
	log       zerolog.Logger

	timeline Timeline
	disabled models.TrackMask
	muted    models.MuteSet

	video  Stream
	audio  map[string]Stream // by clip id
	failed map[string]bool   // by url, reported once

	state    State
	anchor   time.Time
	playhead float64
	cancel   func()
}

func NewEngine(factory StreamFactory, hooks Hooks, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTickerScheduler(60)
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = DefaultDriftThreshold
	}
	return &Engine{
		newStream: factory,
		hooks:     hooks,
		clock:     opts.Clock,
		scheduler: opts.Scheduler,
		threshold: opts.DriftThreshold,
		log:       opts.Logger,
		audio:     make(map[string]Stream),
		failed:    make(map[string]bool),
	}
}

// --- TRANSPORT ---

// Load replaces the timeline. Streams of clips that disappeared or changed
// URL are released; the playhead is kept.
func (e *Engine) Load(tl Timeline) {
	e.mu.Lock()
	var out []func()

	live := make(map[string]string, len(tl.Clips))
	urls := make(map[string]bool)
	for _, c := range tl.Clips {
		live[c.ID] = c.URL
		urls[c.URL] = true
	}
	for _, s := range tl.Segments {
		urls[s.SourceURL] = true
	}
	for id, st := range e.audio {
		if url, ok := live[id]; !ok || url != st.Source() {
			st.Pause()
			delete(e.audio, id)
		}
	}
	for url := range e.failed {
		if !urls[url] {
			delete(e.failed, url)
		}
	}

	e.timeline = tl
	if e.playhead > tl.Duration {
		e.playhead = tl.Duration
	}
	if e.state == Playing {
		e.anchor = e.clock.Now().Add(-seconds(e.playhead))
	}
	out = e.sync(e.playhead, out)
	e.mu.Unlock()
	run(out)
}

// SetDisabledTracks mutes and pauses every clip of the given track kinds.
func (e *Engine) SetDisabledTracks(mask models.TrackMask) {
	e.mu.Lock()
	e.disabled = copyMask(mask)
	out := e.sync(e.current(), nil)
	e.mu.Unlock()
	run(out)
}

// SetMuted mutes individual clips.
func (e *Engine) SetMuted(muted models.MuteSet) {
	e.mu.Lock()
	e.muted = copyMutes(muted)
	out := e.sync(e.current(), nil)
	e.mu.Unlock()
	run(out)
}

// Play starts the clock from the current playhead. Playing from the end
// restarts at zero.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.state == Playing {
		e.mu.Unlock()
		return
	}
	if e.playhead >= e.timeline.Duration {
		e.playhead = 0
	}
	e.state = Playing
	e.anchor = e.clock.Now().Add(-seconds(e.playhead))
	out := e.sync(e.playhead, nil)
	e.cancel = e.scheduler.Start(e.Tick)
	e.log.Debug().Float64("playhead", e.playhead).Msg("playback started")
	e.mu.Unlock()
	run(out)
}

// Pause stops the clock and keeps the playhead.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state == Playing {
		e.playhead = e.elapsed()
		e.halt()
	}
	e.mu.Unlock()
}

// Stop halts playback and rewinds every stream and the clock to zero.
func (e *Engine) Stop() {
	e.mu.Lock()
	out := e.rewind(nil)
	e.mu.Unlock()
	run(out)
}

// Seek moves the playhead. It works while playing and while stopped.
func (e *Engine) Seek(t float64) {
	e.mu.Lock()
	t = clamp(t, 0, e.timeline.Duration)
	e.playhead = t
	e.anchor = e.clock.Now().Add(-seconds(t))
	out := e.sync(t, nil)
	out = append(out, e.playheadNotice(t))
	e.mu.Unlock()
	run(out)
}

// Tick advances one frame. The scheduler calls it; tests may call it directly.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	elapsed := e.elapsed()
	var out []func()
	if elapsed >= e.timeline.Duration {
		out = e.rewind(out)
		if e.hooks.OnEnded != nil {
			out = append(out, e.hooks.OnEnded)
		}
	} else {
		e.playhead = elapsed
		out = e.sync(elapsed, out)
		out = append(out, e.playheadNotice(elapsed))
	}
	e.mu.Unlock()
	run(out)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Playhead returns the current position in seconds.
func (e *Engine) Playhead() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current()
}

// --- SYNC ---

// sync makes every stream match time t. Notifications are appended to out.
func (e *Engine) sync(t float64, out []func()) []func() {
	playing := e.state == Playing
	out = e.syncVideo(t, playing, out)
	for _, c := range e.timeline.Clips {
		out = e.syncAudio(c, t, playing, out)
	}
	return out
}

func (e *Engine) syncVideo(t float64, playing bool, out []func()) []func() {
	idx := segments.At(e.timeline.Segments, t)
	if idx < 0 {
		if e.video != nil && e.video.Playing() {
			e.video.Pause()
		}
		return out
	}
	seg := e.timeline.Segments[idx]
	if seg.SourceURL == "" || e.failed[seg.SourceURL] {
		if e.video != nil && e.video.Playing() {
			e.video.Pause()
		}
		return out
	}
	if e.video == nil {
		e.video = e.newStream(videoStreamID, models.TrackVideo)
	}

	// Past the source's own length the segment holds its last frame
	local := t - seg.StartTime
	frozen := local >= seg.BaseDuration
	target := min(local, seg.BaseDuration)

	if e.video.Source() != seg.SourceURL {
		if err := e.video.Load(seg.SourceURL); err != nil {
			return e.fail(seg.ID, seg.SourceURL, err, out)
		}
		e.video.Seek(target)
	} else if math.Abs(e.video.Position()-target) > e.threshold {
		e.video.Seek(target)
	}

	switch {
	case playing && !frozen && !e.video.Playing():
		if err := e.video.Play(); err != nil {
			return e.fail(seg.ID, seg.SourceURL, err, out)
		}
	case (!playing || frozen) && e.video.Playing():
		e.video.Pause()
	}
	return out
}

func (e *Engine) syncAudio(c models.AudioClip, t float64, playing bool, out []func()) []func() {
	if c.URL == "" || e.failed[c.URL] {
		return out
	}
	st, ok := e.audio[c.ID]
	if !ok {
		st = e.newStream(c.ID, c.SourceKind)
		if err := st.Load(c.URL); err != nil {
			return e.fail(c.ID, c.URL, err, out)
		}
		e.audio[c.ID] = st
	}

	if e.disabled.Disabled(c.SourceKind) || c.Muted || e.muted.Has(c.ID) {
		st.SetMuted(true)
		if st.Playing() {
			st.Pause()
		}
		return out
	}
	st.SetMuted(false)

	local := t - c.StartTime
	if local < 0 || local >= c.Duration {
		if st.Playing() {
			st.Pause()
		}
		return out
	}
	if math.Abs(st.Position()-local) > e.threshold {
		st.Seek(local)
	}
	switch {
	case playing && !st.Playing():
		if err := st.Play(); err != nil {
			delete(e.audio, c.ID)
			return e.fail(c.ID, c.URL, err, out)
		}
	case !playing && st.Playing():
		st.Pause()
	}
	return out
}

// fail quarantines url inside the engine and reports it once.
func (e *Engine) fail(id, url string, err error, out []func()) []func() {
	if e.failed[url] {
		return out
	}
	e.failed[url] = true
	e.log.Warn().Err(err).Str("clip", id).Str("url", url).Msg("stream failed to load")
	if e.hooks.OnStreamError != nil {
		cb := e.hooks.OnStreamError
		out = append(out, func() { cb(id, url, err) })
	}
	return out
}

// --- HELPERS ---

func (e *Engine) halt() {
	e.state = Stopped
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.video != nil {
		e.video.Pause()
	}
	for _, st := range e.audio {
		st.Pause()
	}
}

func (e *Engine) rewind(out []func()) []func() {
	e.halt()
	e.playhead = 0
	e.anchor = e.clock.Now()
	if e.video != nil {
		e.video.Seek(0)
	}
	for _, st := range e.audio {
		st.Seek(0)
	}
	e.log.Debug().Msg("playback rewound")
	return append(out, e.playheadNotice(0))
}

func (e *Engine) elapsed() float64 {
	return e.clock.Now().Sub(e.anchor).Seconds()
}

func (e *Engine) current() float64 {
	if e.state == Playing {
		return clamp(e.elapsed(), 0, e.timeline.Duration)
	}
	return e.playhead
}

func (e *Engine) playheadNotice(t float64) func() {
	cb := e.hooks.OnPlayhead
	if cb == nil {
		return func() {}
	}
	id := ""
	if i := segments.At(e.timeline.Segments, t); i >= 0 {
		id = e.timeline.Segments[i].ID
	}
	return func() { cb(t, id) }
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func copyMask(m models.TrackMask) models.TrackMask {
	out := make(models.TrackMask, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMutes(m models.MuteSet) models.MuteSet {
	out := make(models.MuteSet, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
