package playback

import (
	"sync"
	"time"

	"motion-timeline/internal/models"
)

// Stream is one media element driven by the engine. Positions are seconds in
// the stream's own time base.
type Stream interface {
	Load(url string) error
	Source() string
	Position() float64
	Seek(seconds float64)
	Play() error
	Pause()
	SetMuted(muted bool)
	Playing() bool
}

// StreamFactory creates the stream for a clip or a segment.
type StreamFactory func(id string, kind models.TrackKind) Stream

// Clock supplies wall time. Only differences between readings are used.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the monotonic system clock.
var SystemClock Clock = systemClock{}

// Scheduler drives the tick callback until the returned cancel is called.
type Scheduler interface {
	Start(tick func()) (cancel func())
}

// TickerScheduler fires tick at a fixed interval on its own goroutine.
type TickerScheduler struct {
	Interval time.Duration
}

// NewTickerScheduler ticks fps times per second.
func NewTickerScheduler(fps int) TickerScheduler {
	if fps <= 0 {
		fps = 60
	}
	return TickerScheduler{Interval: time.Second / time.Duration(fps)}
}

func (s TickerScheduler) Start(tick func()) func() {
	ticker := time.NewTicker(s.Interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
