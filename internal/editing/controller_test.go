package editing

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"motion-timeline/internal/models"
)

type commitLog struct {
	mu      sync.Mutex
	commits []models.ClipTiming
	ids     []string
}

func (l *commitLog) commit(_ models.TrackKind, id string, t models.ClipTiming) {
	l.mu.Lock()
	l.commits = append(l.commits, t)
	l.ids = append(l.ids, id)
	l.mu.Unlock()
}

func (l *commitLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commits)
}

func (l *commitLog) last() models.ClipTiming {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits[len(l.commits)-1]
}

func testOptions() Options {
	return Options{
		PixelsPerSecond: 50,
		MinDuration:     0.5,
		SnapEnabled:     true,
		SnapThreshold:   0.15,
		CommitDelay:     30 * time.Millisecond,
		ClearDelay:      300 * time.Millisecond,
		Logger:          zerolog.Nop(),
	}
}

func newTestController() (*Controller, *commitLog) {
	log := &commitLog{}
	return NewController(log.commit, testOptions()), log
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func timing(start, dur float64) models.ClipTiming {
	return models.ClipTiming{StartTime: start, Duration: dur}
}

func near(a, b models.ClipTiming) bool {
	return math.Abs(a.StartTime-b.StartTime) < 1e-9 && math.Abs(a.Duration-b.Duration) < 1e-9
}

func TestDragProposals(t *testing.T) {
	dialogue := Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}
	tests := []struct {
		name    string
		kind    DragKind
		pointer float64 // pixels from the anchor, 50 px per second
		want    models.ClipTiming
	}{
		{"move right", Move, 50, timing(3, 3)},
		{"move left", Move, -75, timing(0.5, 3)},
		{"move clamps at zero", Move, -500, timing(0, 3)},
		{"resize left grows", ResizeLeft, -50, timing(1, 4)},
		{"resize left keeps min duration", ResizeLeft, 400, timing(4.5, 0.5)},
		{"resize left clamps at zero", ResizeLeft, -500, timing(0, 5)},
		{"resize right grows", ResizeRight, 100, timing(2, 5)},
		{"resize right keeps min duration", ResizeRight, -500, timing(2, 0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController()
			defer c.Close()
			c.BeginDrag(dialogue, tt.kind, 100)
			got, ok := c.Update(100 + tt.pointer)
			if !ok || !near(got, tt.want) {
				t.Fatalf("Update = %+v (%v), want %+v", got, ok, tt.want)
			}
		})
	}
}

func TestVideoSnapsToAudioBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		kind    DragKind
		pointer float64
		want    models.ClipTiming
	}{
		{"resize right snaps end", Target{ID: "v", Kind: models.TrackVideo, Base: timing(0, 3.9)}, ResizeRight, 2.5, timing(0, 4)},
		{"move snaps end", Target{ID: "v", Kind: models.TrackVideo, Base: timing(1, 2)}, Move, 47.5, timing(2, 2)},
		{"move snaps start", Target{ID: "v", Kind: models.TrackVideo, Base: timing(3, 2)}, Move, 4, timing(3.2, 2)},
		{"resize left snaps start", Target{ID: "v", Kind: models.TrackVideo, Base: timing(3, 5)}, ResizeLeft, 7.5, timing(3.2, 4.8)},
		{"outside threshold", Target{ID: "v", Kind: models.TrackVideo, Base: timing(0, 3)}, ResizeRight, 25, timing(0, 3.5)},
		{"audio never snaps", Target{ID: "a", Kind: models.TrackSFX, Base: timing(0, 3.9)}, ResizeRight, 2.5, timing(0, 3.95)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController()
			defer c.Close()
			c.SetSnapPoints([]float64{4, 3.2})
			c.BeginDrag(tt.target, tt.kind, 0)
			got, _ := c.Update(tt.pointer)
			if !near(got, tt.want) {
				t.Fatalf("Update = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEffectiveIsPure(t *testing.T) {
	base := timing(2, 3)
	off := models.EditOffset{StartDelta: -5, DurationDelta: 1}
	a := Effective(base, off)
	b := Effective(base, off)
	if a != b || a != timing(0, 4) {
		t.Fatalf("Effective = %+v / %+v", a, b)
	}
	if base != timing(2, 3) {
		t.Fatal("base modified")
	}
	if got := Effective(base, models.EditOffset{DurationDelta: -10}); got.Duration != 0 {
		t.Fatalf("negative duration must clamp, got %+v", got)
	}
}

func TestZeroDragIsDiscarded(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	target := Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}
	c.BeginDrag(target, Move, 10)
	c.Update(60)
	c.Update(10)
	if _, ok := c.EndDrag(); ok {
		t.Fatal("a drag back to the start must not commit")
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("pending = %v", c.Pending())
	}
	time.Sleep(3 * testOptions().CommitDelay)
	if log.count() != 0 {
		t.Fatal("unexpected commit")
	}
}

func TestCommitAfterDebounceThenResolve(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	target := Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}

	c.BeginDrag(target, Move, 0)
	c.Update(50)
	final, ok := c.EndDrag()
	if !ok || final != timing(3, 3) {
		t.Fatalf("EndDrag = %+v %v", final, ok)
	}
	if log.count() != 0 {
		t.Fatal("commit must wait for the debounce")
	}

	// the overlay is rendered until the store catches up
	if got := c.Resolve("d0", target.Base); got != final {
		t.Fatalf("optimistic value = %+v", got)
	}

	waitFor(t, "commit", func() bool { return log.count() == 1 })
	if log.last() != final {
		t.Fatalf("committed %+v", log.last())
	}

	// a stale base still shows the overlay
	if got := c.Resolve("d0", target.Base); got != final {
		t.Fatalf("resolve before reload = %+v", got)
	}
	// the authoritative value drops it, and it is not applied twice
	if got := c.Resolve("d0", final); got != final {
		t.Fatalf("resolve after reload = %+v", got)
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("overlay still pending: %v", c.Pending())
	}
	if got := c.Resolve("d0", final); got != final {
		t.Fatalf("second resolve = %+v", got)
	}
}

func TestRapidDragsCoalesce(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	target := Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}

	c.BeginDrag(target, Move, 0)
	c.Update(50)
	c.EndDrag()

	// the second drag starts from what is on screen
	c.BeginDrag(target, Move, 0)
	got, _ := c.Update(50)
	if got != timing(4, 3) {
		t.Fatalf("second drag = %+v", got)
	}
	c.EndDrag()

	waitFor(t, "commit", func() bool { return log.count() >= 1 })
	time.Sleep(3 * testOptions().CommitDelay)
	if log.count() != 1 || log.last() != timing(4, 3) {
		t.Fatalf("commits = %v", log.commits)
	}
}

func TestOverlayClearsAfterDelay(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	c.BeginDrag(Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}, ResizeRight, 0)
	c.Update(25)
	c.EndDrag()

	waitFor(t, "commit", func() bool { return log.count() == 1 })
	if len(c.Pending()) != 1 {
		t.Fatal("overlay dropped before the clear delay")
	}
	waitFor(t, "overlay to clear", func() bool { return len(c.Pending()) == 0 })
}

func TestSettledRunsWhenOverlayExpires(t *testing.T) {
	var (
		mu      sync.Mutex
		settled []string
	)
	opts := testOptions()
	var c *Controller
	opts.OnSettled = func(id string) {
		// the controller lock is released before the callback
		c.Resolve(id, timing(2, 3))
		mu.Lock()
		settled = append(settled, id)
		mu.Unlock()
	}
	log := &commitLog{}
	c = NewController(log.commit, opts)
	defer c.Close()

	c.BeginDrag(Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}, Move, 0)
	c.Update(50)
	c.EndDrag()

	waitFor(t, "settled callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(settled) == 1
	})
	if settled[0] != "d0" || len(c.Pending()) != 0 {
		t.Fatalf("settled = %v pending = %v", settled, c.Pending())
	}

	// a confirmed edit is dropped by Resolve and never expires
	c.BeginDrag(Target{ID: "d1", Kind: models.TrackDialogue, Base: timing(2, 3)}, Move, 0)
	c.Update(50)
	final, _ := c.EndDrag()
	waitFor(t, "commit", func() bool { return log.count() == 2 })
	c.Resolve("d1", final)
	time.Sleep(opts.ClearDelay + 50*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(settled) != 1 {
		t.Fatalf("settled = %v", settled)
	}
}

func TestCancelRestoresPreviousEdit(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	target := Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(2, 3)}

	c.BeginDrag(target, Move, 0)
	c.Update(50)
	first, _ := c.EndDrag()

	c.BeginDrag(target, Move, 0)
	c.Update(200)
	c.Cancel()

	if c.Dragging() {
		t.Fatal("still dragging")
	}
	if got := c.Resolve("d0", target.Base); got != first {
		t.Fatalf("overlay after cancel = %+v, want %+v", got, first)
	}
	waitFor(t, "commit", func() bool { return log.count() == 1 })
	if log.last() != first {
		t.Fatalf("committed %+v, want %+v", log.last(), first)
	}
}

func TestNewDragCancelsActiveDrag(t *testing.T) {
	c, log := newTestController()
	defer c.Close()
	c.BeginDrag(Target{ID: "a", Kind: models.TrackSFX, Base: timing(0, 2)}, Move, 0)
	c.Update(100)
	c.BeginDrag(Target{ID: "b", Kind: models.TrackSFX, Base: timing(5, 2)}, Move, 0)

	if _, ok := c.Pending()["a"]; ok {
		t.Fatal("abandoned drag left an overlay")
	}
	if got := c.Resolve("a", timing(0, 2)); got != timing(0, 2) {
		t.Fatalf("a = %+v", got)
	}
	c.Update(50)
	if final, ok := c.EndDrag(); !ok || final != timing(6, 2) {
		t.Fatalf("b = %+v %v", final, ok)
	}
	waitFor(t, "commit", func() bool { return log.count() == 1 })
	if log.ids[0] != "b" {
		t.Fatalf("committed %v", log.ids)
	}
}

func TestSetScale(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()
	c.SetScale(100)
	c.SetScale(-1)
	c.BeginDrag(Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(0, 2)}, ResizeRight, 0)
	if got, _ := c.Update(100); got != timing(0, 3) {
		t.Fatalf("Update at 100 px/s = %+v", got)
	}
}

func TestApply(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()
	c.BeginDrag(Target{ID: "d0", Kind: models.TrackDialogue, Base: timing(1, 2)}, Move, 0)
	c.Update(50)

	clips := []models.AudioClip{
		{ID: "d0", StartTime: 1, Duration: 2},
		{ID: "d1", StartTime: 6, Duration: 1},
	}
	out := c.Apply(clips)
	if out[0].StartTime != 2 || out[1].StartTime != 6 {
		t.Fatalf("Apply = %+v", out)
	}
	if clips[0].StartTime != 1 {
		t.Fatal("input modified")
	}
}

func TestUpdateWithoutDrag(t *testing.T) {
	c, _ := newTestController()
	defer c.Close()
	if _, ok := c.Update(10); ok {
		t.Fatal("update without a drag")
	}
	if _, ok := c.EndDrag(); ok {
		t.Fatal("end without a drag")
	}
}
