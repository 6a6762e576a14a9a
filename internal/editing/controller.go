// Package editing implements optimistic drag editing of clip boundaries.
//
// A drag produces a pending EditOffset that is rendered immediately on top of
// the base value. When the drag ends the absolute result is committed after a
// debounce, and the offset is dropped after a longer delay or as soon as the
// authoritative value arrives.
package editing

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"motion-timeline/internal/models"
)

type DragKind int

const (
	Move DragKind = iota
	ResizeLeft
	ResizeRight
)

func (k DragKind) String() string {
	switch k {
	case ResizeLeft:
		return "resize-left"
	case ResizeRight:
		return "resize-right"
	}
	return "move"
}

// Target is the clip being dragged, with its base (committed) timing.
type Target struct {
	ID   string
	Kind models.TrackKind
	Base models.ClipTiming
}

// CommitFunc receives the absolute timing of a finished edit.
type CommitFunc func(kind models.TrackKind, clipID string, timing models.ClipTiming)

type Options struct {
	PixelsPerSecond float64
	MinDuration     float64
	SnapEnabled     bool
	SnapThreshold   float64
	CommitDelay     time.Duration
	ClearDelay      time.Duration
	Logger          zerolog.Logger

	// OnSettled runs when an overlay expires without the committed value
	// having been confirmed. It is called without the controller lock held.
	OnSettled func(clipID string)
}

func DefaultOptions() Options {
	return Options{
		PixelsPerSecond: 50,
		MinDuration:     0.5,
		SnapEnabled:     true,
		SnapThreshold:   0.15,
		CommitDelay:     400 * time.Millisecond,
		ClearDelay:      1500 * time.Millisecond,
		Logger:          zerolog.Nop(),
	}
}

type pending struct {
	kind      models.TrackKind
	base      models.ClipTiming
	offset    models.EditOffset
	final     models.ClipTiming
	committed bool
	gen       int
	clear     *time.Timer
}

type drag struct {
	target Target
	kind   DragKind
	anchor float64           // pointer position at drag start, pixels
	from   models.ClipTiming // effective timing at drag start
	prior  *pending          // overlay that existed before this drag
}

type Controller struct {
	mu         sync.Mutex
	opts       Options
	commit     CommitFunc
	log        zerolog.Logger
	pending    map[string]*pending
	debouncers map[string]func(func())
	snap       []float64
	active     *drag
	gen        int
}

func NewController(commit CommitFunc, opts Options) *Controller {
	def := DefaultOptions()
	if opts.PixelsPerSecond <= 0 {
		opts.PixelsPerSecond = def.PixelsPerSecond
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = def.MinDuration
	}
	if opts.SnapThreshold <= 0 {
		opts.SnapThreshold = def.SnapThreshold
	}
	if opts.CommitDelay <= 0 {
		opts.CommitDelay = def.CommitDelay
	}
	if opts.ClearDelay <= opts.CommitDelay {
		opts.ClearDelay = opts.CommitDelay * 3
	}
	return &Controller{
		opts:       opts,
		commit:     commit,
		log:        opts.Logger,
		pending:    make(map[string]*pending),
		debouncers: make(map[string]func(func())),
	}
}

// SetScale updates the pixels-per-second zoom used for pointer deltas.
func (c *Controller) SetScale(pps float64) {
	if pps <= 0 {
		return
	}
	c.mu.Lock()
	c.opts.PixelsPerSecond = pps
	c.mu.Unlock()
}

// SetSnapPoints replaces the audio boundaries visual clips snap to.
func (c *Controller) SetSnapPoints(points []float64) {
	c.mu.Lock()
	c.snap = append([]float64(nil), points...)
	sort.Float64s(c.snap)
	c.mu.Unlock()
}

// --- DRAG ---

// BeginDrag starts a drag. Any drag in progress is cancelled, and a pending
// commit for the same clip is withdrawn so the new drag continues from what
// is on screen.
func (c *Controller) BeginDrag(t Target, kind DragKind, anchorPx float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.cancelLocked()
	}

	d := &drag{target: t, kind: kind, anchor: anchorPx, from: t.Base}
	if p, ok := c.pending[t.ID]; ok {
		c.withdrawLocked(t.ID, p)
		d.from = Effective(p.base, p.offset)
		t.Base = p.base
		d.target = t
		cp := *p
		d.prior = &cp
	}
	c.pending[t.ID] = &pending{kind: t.Kind, base: t.Base, offset: offsetBetween(t.Base, d.from)}
	c.active = d
	c.log.Debug().Str("clip", t.ID).Stringer("drag", kind).Msg("drag started")
}

// Update applies the pointer position and returns the tentative timing.
func (c *Controller) Update(pointerPx float64) (models.ClipTiming, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.active
	if d == nil {
		return models.ClipTiming{}, false
	}
	delta := (pointerPx - d.anchor) / c.opts.PixelsPerSecond
	next := c.propose(d, delta)
	p := c.pending[d.target.ID]
	p.offset = offsetBetween(p.base, next)
	return next, true
}

// EndDrag finishes the drag. A non-zero edit is committed after the debounce
// and returned; a zero edit is discarded.
func (c *Controller) EndDrag() (models.ClipTiming, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.active
	if d == nil {
		return models.ClipTiming{}, false
	}
	c.active = nil
	id := d.target.ID
	p := c.pending[id]
	if p.offset.IsZero() && (d.prior == nil || !d.prior.committed) {
		delete(c.pending, id)
		return d.target.Base, false
	}

	c.gen++
	p.gen = c.gen
	p.final = Effective(p.base, p.offset)
	gen := p.gen

	db, ok := c.debouncers[id]
	if !ok {
		db = debounce.New(c.opts.CommitDelay)
		c.debouncers[id] = db
	}
	db(func() { c.fire(id, gen) })
	p.clear = time.AfterFunc(c.opts.ClearDelay, func() { c.expire(id, gen) })

	c.log.Debug().Str("clip", id).Float64("start", p.final.StartTime).Float64("duration", p.final.Duration).Msg("drag ended")
	return p.final, true
}

// Cancel abandons the drag in progress and restores the previous overlay.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.cancelLocked()
	}
}

// Dragging reports whether a drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Close withdraws every scheduled callback.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	for id, p := range c.pending {
		c.withdrawLocked(id, p)
	}
	c.pending = make(map[string]*pending)
}

// --- READ SIDE ---

// Effective is the rendered value of a clip: base plus its pending offset.
func Effective(base models.ClipTiming, off models.EditOffset) models.ClipTiming {
	return models.ClipTiming{
		StartTime: math.Max(0, base.StartTime+off.StartDelta),
		Duration:  math.Max(0, base.Duration+off.DurationDelta),
	}
}

// Resolve returns what to render for a clip whose authoritative timing is
// base. Once base equals the committed value the overlay is dropped so it is
// never applied twice.
func (c *Controller) Resolve(id string, base models.ClipTiming) models.ClipTiming {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return base
	}
	dragging := c.active != nil && c.active.target.ID == id
	if !dragging && p.committed && base.Equal(p.final) {
		c.withdrawLocked(id, p)
		delete(c.pending, id)
		return base
	}
	return Effective(p.base, p.offset)
}

// Apply resolves every clip of the list.
func (c *Controller) Apply(clips []models.AudioClip) []models.AudioClip {
	return lo.Map(clips, func(clip models.AudioClip, _ int) models.AudioClip {
		t := c.Resolve(clip.ID, clip.Timing())
		clip.StartTime, clip.Duration = t.StartTime, t.Duration
		return clip
	})
}

// Pending returns a snapshot of the current overlays.
func (c *Controller) Pending() map[string]models.EditOffset {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.EditOffset, len(c.pending))
	for id, p := range c.pending {
		out[id] = p.offset
	}
	return out
}

// --- INTERNALS ---

func (c *Controller) propose(d *drag, delta float64) models.ClipTiming {
	from := d.from
	minDur := c.opts.MinDuration
	next := from
	snap := c.opts.SnapEnabled && d.target.Kind == models.TrackVideo && len(c.snap) > 0

	switch d.kind {
	case Move:
		next.StartTime = math.Max(0, from.StartTime+delta)
		if snap {
			ds, okS := c.nearest(next.StartTime)
			de, okE := c.nearest(next.StartTime + next.Duration)
			switch {
			case okS && (!okE || math.Abs(ds-next.StartTime) <= math.Abs(de-(next.StartTime+next.Duration))):
				next.StartTime = ds
			case okE:
				next.StartTime = de - next.Duration
			}
			next.StartTime = math.Max(0, next.StartTime)
		}
	case ResizeLeft:
		end := from.StartTime + from.Duration
		start := math.Max(0, from.StartTime+delta)
		if snap {
			if s, ok := c.nearest(start); ok {
				start = s
			}
		}
		start = math.Min(start, end-minDur)
		start = math.Max(0, start)
		next.StartTime = start
		next.Duration = end - start
	case ResizeRight:
		end := from.StartTime + from.Duration + delta
		if snap {
			if e, ok := c.nearest(end); ok {
				end = e
			}
		}
		next.Duration = math.Max(minDur, end-from.StartTime)
	}
	return next
}

// nearest finds the closest snap point within the threshold.
func (c *Controller) nearest(t float64) (float64, bool) {
	best, found := 0.0, false
	for _, p := range c.snap {
		if math.Abs(p-t) <= c.opts.SnapThreshold && (!found || math.Abs(p-t) < math.Abs(best-t)) {
			best, found = p, true
		}
	}
	return best, found
}

func (c *Controller) fire(id string, gen int) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.gen != gen || p.committed {
		c.mu.Unlock()
		return
	}
	p.committed = true
	kind, final := p.kind, p.final
	c.mu.Unlock()

	c.log.Info().Str("clip", id).Str("track", string(kind)).Float64("start", final.StartTime).Float64("duration", final.Duration).Msg("clip edit committed")
	if c.commit != nil {
		c.commit(kind, id, final)
	}
}

func (c *Controller) expire(id string, gen int) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	settled := c.opts.OnSettled
	c.mu.Unlock()

	c.log.Debug().Str("clip", id).Msg("edit overlay expired")
	if settled != nil {
		settled(id)
	}
}

// withdrawLocked stops the clear timer and replaces the debounced commit with
// a no-op so the previous operation cannot write.
func (c *Controller) withdrawLocked(id string, p *pending) {
	p.gen = -1
	if p.clear != nil {
		p.clear.Stop()
	}
	if db, ok := c.debouncers[id]; ok {
		db(func() {})
	}
}

func (c *Controller) cancelLocked() {
	d := c.active
	c.active = nil
	id := d.target.ID
	if d.prior == nil {
		delete(c.pending, id)
		return
	}
	// The earlier edit was withdrawn when this drag began; reschedule it.
	p := d.prior
	c.gen++
	p.gen = c.gen
	gen := p.gen
	c.pending[id] = p
	if db, ok := c.debouncers[id]; ok && !p.committed {
		db(func() { c.fire(id, gen) })
	}
	p.clear = time.AfterFunc(c.opts.ClearDelay, func() { c.expire(id, gen) })
}

func offsetBetween(base, next models.ClipTiming) models.EditOffset {
	return models.EditOffset{
		StartDelta:    next.StartTime - base.StartTime,
		DurationDelta: next.Duration - base.Duration,
	}
}
